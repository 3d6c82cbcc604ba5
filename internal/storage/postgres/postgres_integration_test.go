//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
	"github.com/cardapiopro/cardapio-api/internal/domain/catalog"
	"github.com/cardapiopro/cardapio-api/internal/domain/coupon"
	"github.com/cardapiopro/cardapio-api/internal/domain/loyalty"
	"github.com/cardapiopro/cardapio-api/internal/domain/order"
	"github.com/cardapiopro/cardapio-api/internal/domain/pricing"
	"github.com/cardapiopro/cardapio-api/internal/domain/settings"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "cardapio",
				"POSTGRES_PASSWORD": "cardapio",
				"POSTGRES_DB":       "cardapio",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(pg); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://cardapio:cardapio@%s:%s/cardapio?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// The schema is idempotent.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("second migration run: %v", err)
	}

	return m.Run()
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func seedCatalog(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `
		INSERT INTO products (id, name, price, promotional_price, preparation_time, active) VALUES
			('it-burger', 'Burger', 20.00, NULL, 25, TRUE),
			('it-pizza', 'Pizza', 60.00, 50.00, NULL, TRUE),
			('it-retired', 'Retired', 10.00, NULL, NULL, FALSE)
		ON CONFLICT (id) DO NOTHING;
		INSERT INTO addons (id, name, price) VALUES ('it-cheese', 'Cheese', 3.00)
		ON CONFLICT (id) DO NOTHING;`)
	require.NoError(t, err)
}

func newCoupon(t *testing.T, repo *CouponRepository, code string, limit *int) *coupon.Coupon {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &coupon.Coupon{
		ID:         uuid.NewString(),
		Code:       code,
		Type:       coupon.DiscountFixed,
		Value:      d("5.00"),
		UsageLimit: limit,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func TestCatalogRepository(t *testing.T) {
	seedCatalog(t)
	repo := NewCatalogRepository(testPool)
	ctx := context.Background()

	products, err := repo.ProductsByIDs(ctx, []string{"it-burger", "it-pizza", "it-retired", "missing"})
	require.NoError(t, err)
	require.Len(t, products, 3)

	byID := make(map[string]catalog.Product)
	for _, p := range products {
		byID[p.ID] = p
	}
	require.NotNil(t, byID["it-burger"].PreparationTime)
	assert.Equal(t, 25, *byID["it-burger"].PreparationTime)
	assert.True(t, d("50.00").Equal(byID["it-pizza"].UnitPrice()))
	assert.False(t, byID["it-retired"].Active)

	menu, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	for _, p := range menu {
		assert.NotEqual(t, "it-retired", p.ID)
	}
}

func TestCatalogRepository_Upsert(t *testing.T) {
	repo := NewCatalogRepository(testPool)
	ctx := context.Background()
	prep := 12

	p := catalog.Product{ID: "it-upsert", Name: "Fries", Category: "sides", Price: d("9.90"), PreparationTime: &prep, Available: true, Active: true}
	require.NoError(t, repo.UpsertProduct(ctx, p))
	p.Name = "Large fries"
	p.Price = d("12.90")
	require.NoError(t, repo.UpsertProduct(ctx, p))

	got, err := repo.ProductsByIDs(ctx, []string{"it-upsert"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Large fries", got[0].Name)
	assert.True(t, d("12.90").Equal(got[0].Price))
	assert.Nil(t, got[0].PromotionalPrice)

	require.NoError(t, repo.UpsertAddon(ctx, catalog.Addon{ID: "it-sauce", Name: "Sauce", Price: d("1.50"), Active: true}))
	addons, err := repo.AddonsByIDs(ctx, []string{"it-sauce"})
	require.NoError(t, err)
	require.Len(t, addons, 1)
	assert.True(t, d("1.50").Equal(addons[0].Price))
}

func TestCouponRepository_CaseInsensitiveLookup(t *testing.T) {
	repo := NewCouponRepository(testPool)
	ctx := context.Background()
	created := newCoupon(t, repo, "WELCOME-IT", nil)

	got, err := repo.FindActiveByCode(ctx, "welcome-it")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	exists, err := repo.ExistsByCode(ctx, "Welcome-It")
	require.NoError(t, err)
	assert.True(t, exists)

	got.Active = false
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.Update(ctx, got))

	_, err = repo.FindActiveByCode(ctx, "WELCOME-IT")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCouponRepository_CreateMany(t *testing.T) {
	repo := NewCouponRepository(testPool)
	ctx := context.Background()
	existing := newCoupon(t, repo, "BULK-IT-1", nil)

	now := time.Now().UTC()
	batch := make([]*coupon.Coupon, 0, 3)
	for _, code := range []string{"bulk-it-1", "BULK-IT-2", "BULK-IT-3"} {
		batch = append(batch, &coupon.Coupon{
			ID: uuid.NewString(), Code: code, Type: coupon.DiscountPercentage, Value: d("10"),
			Active: true, CreatedAt: now, UpdatedAt: now,
		})
	}
	inserted, err := repo.CreateMany(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	got, err := repo.FindActiveByCode(ctx, "bulk-it-1")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)

	codes := make(map[string]bool)
	require.NoError(t, repo.Codes(ctx, func(code string) { codes[code] = true }))
	assert.True(t, codes["BULK-IT-2"])
	assert.True(t, codes["BULK-IT-3"])
}

func TestCouponRepository_IncrementUsageIsGuarded(t *testing.T) {
	repo := NewCouponRepository(testPool)
	limit := 3
	c := newCoupon(t, repo, "RACE-IT", &limit)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.IncrementUsage(context.Background(), c.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, coupon.ErrUsageLimitReached):
				exhausted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, succeeded)
	assert.Equal(t, 20-limit, exhausted)

	got, err := repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, limit, got.UsageCount)
}

func newOrderService(t *testing.T) *order.Service {
	t.Helper()
	tx := NewTxManager(testPool)
	coupons := NewCouponRepository(testPool)
	ledger := loyalty.NewService(NewCustomerRepository(testPool), tx)
	svc, err := order.NewService(order.Deps{
		Orders:      NewOrderRepository(testPool),
		Tx:          tx,
		Pricer:      pricing.NewEngine(NewCatalogRepository(testPool)),
		Coupons:     coupon.NewValidator(coupons),
		CouponUsage: coupons,
		Loyalty:     ledger,
		Customers:   ledger,
	})
	require.NoError(t, err)
	return svc
}

func TestOrderRepository_RoundTrip(t *testing.T) {
	seedCatalog(t)
	svc := newOrderService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, order.CreateRequest{
		CustomerName:  "Ana",
		CustomerPhone: "11900000001",
		Type:          order.TypePickup,
		PaymentMethod: order.PaymentCash,
		ChangeFor:     func() *decimal.Decimal { v := d("100.00"); return &v }(),
		Items: []pricing.ItemRequest{
			{ProductID: "it-burger", Quantity: 2, Note: "no pickles", Addons: []pricing.AddonRequest{{AddonID: "it-cheese", Quantity: 2}}},
			{ProductID: "it-pizza", Quantity: 1},
		},
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Number, got.Number)
	assert.True(t, d("102.00").Equal(got.Subtotal), got.Subtotal.String())
	assert.True(t, got.Total.Equal(got.Subtotal))
	assert.Equal(t, 25, got.EstimatedTime)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "it-burger", got.Items[0].ProductID)
	assert.Equal(t, "no pickles", got.Items[0].Notes)
	require.Len(t, got.Items[0].Addons, 1)
	assert.Equal(t, 2, got.Items[0].Addons[0].Quantity)
	assert.Empty(t, got.Items[1].Addons)
	require.NotNil(t, got.ChangeFor)

	byNumber, err := svc.GetByNumber(ctx, created.Number)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byNumber.ID)

	byPhone, err := svc.ListByCustomerPhone(ctx, "11900000001")
	require.NoError(t, err)
	require.NotEmpty(t, byPhone)
	assert.Len(t, byPhone[0].Items, 2)

	_, err = svc.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestOrderRepository_ConcurrentNumbersAreUnique(t *testing.T) {
	seedCatalog(t)
	svc := newOrderService(t)

	const n = 25
	numbers := make(chan int64, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := svc.Create(context.Background(), order.CreateRequest{
				CustomerName:  "Rush",
				CustomerPhone: "11900000002",
				Type:          order.TypeDineIn,
				PaymentMethod: order.PaymentPix,
				Items:         []pricing.ItemRequest{{ProductID: "it-burger", Quantity: 1}},
			})
			if assert.NoError(t, err) {
				numbers <- o.Number
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int64]bool)
	for num := range numbers {
		assert.False(t, seen[num], "duplicate number %d", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
}

func TestOrderService_LastCouponUseRace(t *testing.T) {
	seedCatalog(t)
	svc := newOrderService(t)
	limit := 1
	newCoupon(t, NewCouponRepository(testPool), "LAST-IT", &limit)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		placed int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), order.CreateRequest{
				CustomerName:  "Racer",
				CustomerPhone: "11900000003",
				Type:          order.TypePickup,
				PaymentMethod: order.PaymentPix,
				CouponCode:    "last-it",
				Items:         []pricing.ItemRequest{{ProductID: "it-pizza", Quantity: 1}},
			})
			if err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, placed)
}

func TestOrderService_UnknownCustomerIsNotFound(t *testing.T) {
	seedCatalog(t)
	svc := newOrderService(t)

	_, err := svc.Create(context.Background(), order.CreateRequest{
		CustomerID:    "00000000-0000-0000-0000-00000000dead",
		CustomerName:  "Ana",
		CustomerPhone: "11900000009",
		Type:          order.TypePickup,
		PaymentMethod: order.PaymentCash,
		Items:         []pricing.ItemRequest{{ProductID: "it-pizza", Quantity: 1}},
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLoyalty_DeliveredOrderEarnsPointsOnce(t *testing.T) {
	seedCatalog(t)
	ctx := context.Background()
	tx := NewTxManager(testPool)
	ledger := loyalty.NewService(NewCustomerRepository(testPool), tx)
	svc := newOrderService(t)

	cust, err := ledger.Register(ctx, loyalty.NewCustomer{Name: "Bia", Phone: "11900000004"})
	require.NoError(t, err)

	o, err := svc.Create(ctx, order.CreateRequest{
		CustomerID:    cust.ID,
		CustomerName:  "Bia",
		CustomerPhone: "11900000004",
		Type:          order.TypePickup,
		PaymentMethod: order.PaymentPix,
		Items:         []pricing.ItemRequest{{ProductID: "it-pizza", Quantity: 2}},
	})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, o.ID, order.StatusDelivered)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, o.ID, order.StatusDelivered)
	require.ErrorIs(t, err, apperr.ErrIllegalTransition)

	bal, err := ledger.Balance(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, bal.LoyaltyPoints)

	history, err := ledger.History(ctx, cust.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, loyalty.TransactionEarn, history[0].Type)

	got, err := ledger.Customer(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalOrders)
	assert.True(t, d("100.00").Equal(got.AverageTicket))
}

func TestLoyalty_ConcurrentRedemptionsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	tx := NewTxManager(testPool)
	ledger := loyalty.NewService(NewCustomerRepository(testPool), tx)

	cust, err := ledger.Register(ctx, loyalty.NewCustomer{Name: "Caio"})
	require.NoError(t, err)
	_, err = ledger.AdjustPoints(ctx, cust.ID, 100, "welcome bonus")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		okay int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.RedeemPoints(ctx, cust.ID, 30, ""); err == nil {
				mu.Lock()
				okay++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, okay)
	bal, err := ledger.Balance(ctx, cust.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, bal.LoyaltyPoints)
	assert.Equal(t, 100, bal.LifetimePoints)
}

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()
	svc := settings.NewService(NewSettingsRepository(testPool))

	first, err := svc.Get(ctx)
	require.NoError(t, err)

	fee := d("6.50")
	updated, err := svc.Update(ctx, settings.Patch{DeliveryFee: &fee})
	require.NoError(t, err)
	assert.Equal(t, first.ID, updated.ID)

	again, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, fee.Equal(again.DeliveryFee))
}

func TestTxManager_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	tx := NewTxManager(testPool)
	customers := NewCustomerRepository(testPool)
	id := uuid.NewString()

	err := tx.RunInTx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		if err := customers.CreateCustomer(ctx, &loyalty.Customer{
			ID: id, Name: "Ghost", Status: loyalty.CustomerActive, Tier: loyalty.TierBronze,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return tx.RunInTx(ctx, func(context.Context) error {
			return apperr.Validation("abort")
		})
	})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = customers.GetCustomer(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
