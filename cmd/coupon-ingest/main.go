// Command coupon-ingest bulk-loads campaign coupon codes from plain or
// gzip-compressed files, one code per line. Every code shares the discount
// rule given on the command line.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/internal/domain/coupon"
	"github.com/cardapiopro/cardapio-api/internal/storage/postgres"
)

func main() {
	var (
		databaseURL    string
		discountType   string
		value          string
		description    string
		minOrder       string
		maxDiscount    string
		usageLimit     int
		maxUsesPerUser int
		expires        string
		batchSize      int
		expected       uint
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&discountType, "type", string(coupon.DiscountPercentage), "discount type: PERCENTAGE or FIXED")
	flag.StringVar(&value, "value", "", "discount value")
	flag.StringVar(&description, "description", "", "coupon description")
	flag.StringVar(&minOrder, "min-order", "", "minimum order value")
	flag.StringVar(&maxDiscount, "max-discount", "", "discount cap for percentage coupons")
	flag.IntVar(&usageLimit, "usage-limit", 0, "total uses per code, 0 for unlimited")
	flag.IntVar(&maxUsesPerUser, "max-uses-per-user", 1, "uses per customer, 0 for unlimited")
	flag.StringVar(&expires, "expires", "", "expiration date (2006-01-02 or RFC 3339)")
	flag.IntVar(&batchSize, "batch-size", 500, "coupons inserted per round trip")
	flag.UintVar(&expected, "expected-codes", 1_000_000, "expected number of stored codes, sizes the bloom filter")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		slog.Error("at least one code file is required")
		os.Exit(1)
	}

	tmpl, err := template(discountType, value, description, minOrder, maxDiscount, usageLimit, maxUsesPerUser, expires)
	if err != nil {
		slog.Error("invalid coupon rule", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, tmpl, batchSize, expected, flag.Args()); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, tmpl coupon.NewCoupon, batchSize int, expected uint, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	in := &ingester{
		store:     postgres.NewCouponRepository(pool),
		build:     coupon.NewService(nil).Build,
		template:  tmpl,
		batchSize: batchSize,
		expected:  expected,
	}
	st, err := in.run(ctx, files)
	slog.Info("ingest summary",
		slog.Int("read", st.Read),
		slog.Int("inserted", st.Inserted),
		slog.Int("existing", st.Existing),
		slog.Int("duplicates", st.Duplicates),
		slog.Int("invalid", st.Invalid),
	)
	return err
}

// template turns the command-line rule into the NewCoupon every code is
// created from. The code itself is filled in per line.
func template(
	discountType, value, description, minOrder, maxDiscount string,
	usageLimit, maxUsesPerUser int,
	expires string,
) (coupon.NewCoupon, error) {
	tmpl := coupon.NewCoupon{
		Description: description,
		Type:        coupon.DiscountType(discountType),
	}

	v, err := decimal.NewFromString(value)
	if err != nil {
		return tmpl, errors.Wrap(err, "parse value")
	}
	tmpl.Value = v

	if tmpl.MinOrderValue, err = optionalDecimal(minOrder); err != nil {
		return tmpl, errors.Wrap(err, "parse min-order")
	}
	if tmpl.MaxDiscountValue, err = optionalDecimal(maxDiscount); err != nil {
		return tmpl, errors.Wrap(err, "parse max-discount")
	}
	if usageLimit > 0 {
		tmpl.UsageLimit = &usageLimit
	}
	if maxUsesPerUser > 0 {
		tmpl.MaxUsesPerUser = &maxUsesPerUser
	}
	if expires != "" {
		t, err := parseDate(expires)
		if err != nil {
			return tmpl, errors.Wrap(err, "parse expires")
		}
		tmpl.ExpirationDate = &t
	}

	// Validate the rule once with a placeholder code so a bad flag fails fast.
	probe := tmpl
	probe.Code = "PROBE"
	if _, err := coupon.NewService(nil).Build(probe); err != nil {
		return tmpl, err
	}
	return tmpl, nil
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		// A bare date stays valid for the whole day.
		return t.Add(24*time.Hour - time.Second), nil
	}
	return time.Parse(time.RFC3339, s)
}
