// Command seed-db loads a demo menu, coupons, store settings and a staff API
// key into the database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/db"
	"github.com/cardapiopro/cardapio-api/internal/domain/auth"
	"github.com/cardapiopro/cardapio-api/internal/domain/catalog"
	"github.com/cardapiopro/cardapio-api/internal/domain/coupon"
	"github.com/cardapiopro/cardapio-api/internal/domain/settings"
	"github.com/cardapiopro/cardapio-api/internal/storage/postgres"
)

type seedFile struct {
	Products []struct {
		ID               string           `json:"id"`
		Name             string           `json:"name"`
		Description      string           `json:"description"`
		Category         string           `json:"category"`
		ImageURL         string           `json:"imageUrl"`
		Price            decimal.Decimal  `json:"price"`
		PromotionalPrice *decimal.Decimal `json:"promotionalPrice"`
		PreparationTime  *int             `json:"preparationTime"`
	} `json:"products"`
	Addons []struct {
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Price decimal.Decimal `json:"price"`
	} `json:"addons"`
	Coupons []struct {
		Code             string           `json:"code"`
		Description      string           `json:"description"`
		Type             string           `json:"type"`
		Value            decimal.Decimal  `json:"value"`
		MinOrderValue    *decimal.Decimal `json:"minOrderValue"`
		MaxDiscountValue *decimal.Decimal `json:"maxDiscountValue"`
		UsageLimit       *int             `json:"usageLimit"`
		MaxUsesPerUser   *int             `json:"maxUsesPerUser"`
	} `json:"coupons"`
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKey       string
		apiKeyPepper string
		storeName    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "", "path to a seed JSON file (defaults to the embedded demo menu)")
	flag.StringVar(&apiKey, "api-key", "", "staff API key to seed (or CARDAPIO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CARDAPIO_API_KEY_PEPPER env)")
	flag.StringVar(&storeName, "store-name", "", "store name written to the settings")
	flag.Parse()

	databaseURL = firstNonEmpty(databaseURL, os.Getenv("CARDAPIO_DATABASE_URL"), os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	apiKey = firstNonEmpty(apiKey, os.Getenv("CARDAPIO_SEED_API_KEY"))
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or CARDAPIO_SEED_API_KEY")
		os.Exit(1)
	}
	apiKeyPepper = firstNonEmpty(apiKeyPepper, os.Getenv("CARDAPIO_API_KEY_PEPPER"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath, apiKey, apiKeyPepper, storeName); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath, apiKey, pepper, storeName string) error {
	data := db.SeedCatalog
	if seedPath != "" {
		b, err := os.ReadFile(seedPath)
		if err != nil {
			return errors.Wrap(err, "read seed file")
		}
		data = b
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, postgres.NewCatalogRepository(pool), seed); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedCoupons(ctx, coupon.NewService(postgres.NewCouponRepository(pool)), seed); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedSettings(ctx, settings.NewService(postgres.NewSettingsRepository(pool)), storeName); err != nil {
		return errors.Wrap(err, "seed settings")
	}
	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func seedCatalog(ctx context.Context, repo *postgres.CatalogRepository, seed seedFile) error {
	slog.Info("upserting products", slog.Int("count", len(seed.Products)))
	for _, p := range seed.Products {
		if err := repo.UpsertProduct(ctx, catalog.Product{
			ID:               p.ID,
			Name:             p.Name,
			Description:      p.Description,
			Category:         p.Category,
			ImageURL:         p.ImageURL,
			Price:            p.Price,
			PromotionalPrice: p.PromotionalPrice,
			PreparationTime:  p.PreparationTime,
			Available:        true,
			Active:           true,
		}); err != nil {
			return err
		}
	}

	slog.Info("upserting addons", slog.Int("count", len(seed.Addons)))
	for _, a := range seed.Addons {
		if err := repo.UpsertAddon(ctx, catalog.Addon{ID: a.ID, Name: a.Name, Price: a.Price, Active: true}); err != nil {
			return err
		}
	}
	return nil
}

// seedCoupons creates the demo coupons, leaving existing codes untouched so
// their usage counters survive reseeding.
func seedCoupons(ctx context.Context, svc *coupon.Service, seed seedFile) error {
	for _, c := range seed.Coupons {
		_, err := svc.Create(ctx, coupon.NewCoupon{
			Code:             c.Code,
			Description:      c.Description,
			Type:             coupon.DiscountType(c.Type),
			Value:            c.Value,
			MinOrderValue:    c.MinOrderValue,
			MaxDiscountValue: c.MaxDiscountValue,
			UsageLimit:       c.UsageLimit,
			MaxUsesPerUser:   c.MaxUsesPerUser,
		})
		switch {
		case errors.Is(err, coupon.ErrDuplicateCode):
			slog.Info("coupon exists, skipping", slog.String("code", c.Code))
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", c.Code)
		default:
			slog.Info("created coupon", slog.String("code", c.Code))
		}
	}
	return nil
}

func seedSettings(ctx context.Context, svc *settings.Service, storeName string) error {
	if storeName == "" {
		// Get stores the defaults on first use.
		_, err := svc.Get(ctx)
		return err
	}
	_, err := svc.Update(ctx, settings.Patch{StoreName: &storeName})
	return err
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	info := &auth.APIKeyInfo{
		ID:      "default-staff",
		KeyHash: auth.HashAPIKey([]byte(pepper), apiKey),
		Name:    "Default staff key",
		Scopes:  []string{auth.ScopeStaff},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return err
	}
	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
