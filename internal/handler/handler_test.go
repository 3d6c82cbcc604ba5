package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
	"github.com/cardapiopro/cardapio-api/internal/domain/auth"
	"github.com/cardapiopro/cardapio-api/internal/domain/catalog"
	"github.com/cardapiopro/cardapio-api/internal/domain/coupon"
	"github.com/cardapiopro/cardapio-api/internal/domain/loyalty"
	"github.com/cardapiopro/cardapio-api/internal/domain/order"
	"github.com/cardapiopro/cardapio-api/internal/domain/settings"
	"github.com/cardapiopro/cardapio-api/internal/storage/redisx"
)

// --- Mock implementations ---

type mockCatalog struct {
	products []catalog.Product
	addons   []catalog.Addon
	err      error
}

func (m *mockCatalog) ListProducts(context.Context) ([]catalog.Product, error) {
	return m.products, m.err
}

func (m *mockCatalog) ListAddons(context.Context) ([]catalog.Addon, error) {
	return m.addons, m.err
}

type mockOrders struct {
	mu       sync.Mutex
	orders   map[string]*order.Order
	created  []order.CreateRequest
	createFn func(order.CreateRequest) (*order.Order, error)
	statusFn func(id string, s order.Status) (*order.Order, error)
	listed   string
}

func newMockOrders() *mockOrders {
	return &mockOrders{orders: make(map[string]*order.Order)}
}

func (m *mockOrders) Create(_ context.Context, req order.CreateRequest) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, req)
	if m.createFn != nil {
		return m.createFn(req)
	}
	o := sampleOrder("ord-" + req.CustomerPhone)
	m.orders[o.ID] = o
	return o, nil
}

func (m *mockOrders) UpdateStatus(_ context.Context, id string, s order.Status) (*order.Order, error) {
	if m.statusFn != nil {
		return m.statusFn(id, s)
	}
	o, err := m.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	o.Status = s
	return o, nil
}

func (m *mockOrders) Cancel(_ context.Context, id, reason string) (*order.Order, error) {
	if reason == "" {
		return nil, apperr.Validation("cancellation reason is required")
	}
	return m.UpdateStatus(context.Background(), id, order.StatusCancelled)
}

func (m *mockOrders) MarkPaid(ctx context.Context, id string) (*order.Order, error) {
	return m.SetPaymentStatus(ctx, id, order.PaymentPaid)
}

func (m *mockOrders) SetPaymentStatus(_ context.Context, id string, s order.PaymentStatus) (*order.Order, error) {
	o, err := m.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	o.PaymentStatus = s
	return o, nil
}

func (m *mockOrders) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrders) GetByNumber(_ context.Context, n int64) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Number == n {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *mockOrders) list(name string) ([]order.Order, error) {
	m.listed = name
	var out []order.Order
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (m *mockOrders) List(context.Context) ([]order.Order, error) { return m.list("all") }

func (m *mockOrders) ListByStatus(_ context.Context, s order.Status) ([]order.Order, error) {
	return m.list("status:" + string(s))
}

func (m *mockOrders) ListActive(context.Context) ([]order.Order, error) { return m.list("active") }

func (m *mockOrders) ListToday(context.Context) ([]order.Order, error) { return m.list("today") }

func (m *mockOrders) ListByCustomerPhone(_ context.Context, phone string) ([]order.Order, error) {
	return m.list("phone:" + phone)
}

type mockValidator struct {
	gotCustomer string
}

func (m *mockValidator) Validate(_ context.Context, code string, subtotal decimal.Decimal, customerID string) (*coupon.Result, error) {
	m.gotCustomer = customerID
	if code != "SAVE10" {
		return &coupon.Result{Code: code, DiscountAmount: decimal.Zero, Message: coupon.MessageInvalid}, nil
	}
	return &coupon.Result{
		Valid:          true,
		Code:           code,
		Type:           coupon.DiscountPercentage,
		DiscountAmount: subtotal.Mul(decimal.RequireFromString("0.1")).Round(2),
		Message:        coupon.MessageApplied,
	}, nil
}

type mockCoupons struct {
	coupons     map[string]*coupon.Coupon
	deactivated []string
}

func (m *mockCoupons) List(context.Context) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	for _, c := range m.coupons {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockCoupons) Get(_ context.Context, id string) (*coupon.Coupon, error) {
	c, ok := m.coupons[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (m *mockCoupons) Create(_ context.Context, in coupon.NewCoupon) (*coupon.Coupon, error) {
	for _, c := range m.coupons {
		if c.Code == in.Code {
			return nil, &apperr.Error{Kind: coupon.ErrDuplicateCode, Message: "a coupon with code " + in.Code + " already exists"}
		}
	}
	c := &coupon.Coupon{ID: "cpn-new", Code: in.Code, Type: in.Type, Value: in.Value, Active: true}
	m.coupons[c.ID] = c
	return c, nil
}

func (m *mockCoupons) Update(ctx context.Context, id string, p coupon.Patch) (*coupon.Coupon, error) {
	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := coupon.ApplyPatch(*c, p, time.Now())
	m.coupons[id] = &updated
	return &updated, nil
}

func (m *mockCoupons) Deactivate(ctx context.Context, id string) error {
	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	m.deactivated = append(m.deactivated, id)
	return nil
}

type mockLoyalty struct {
	balances map[string]int
	redeemed []string
}

func (m *mockLoyalty) Register(_ context.Context, in loyalty.NewCustomer) (*loyalty.Customer, error) {
	if in.Name == "" {
		return nil, apperr.Validation("customer name is required")
	}
	return &loyalty.Customer{ID: "cus-new", Name: in.Name, Phone: in.Phone, Tier: loyalty.TierBronze}, nil
}

func (m *mockLoyalty) Balance(_ context.Context, id string) (*loyalty.Balance, error) {
	points, ok := m.balances[id]
	if !ok {
		return nil, loyalty.ErrNotFound
	}
	return &loyalty.Balance{CustomerID: id, LoyaltyPoints: points, Tier: loyalty.TierFor(points)}, nil
}

func (m *mockLoyalty) History(context.Context, string) ([]loyalty.Transaction, error) {
	return []loyalty.Transaction{{ID: "tx-1", Type: loyalty.TransactionEarn, Points: 50}}, nil
}

func (m *mockLoyalty) RedeemPoints(_ context.Context, id string, points int, _ string) (*loyalty.Transaction, error) {
	if points > m.balances[id] {
		return nil, &loyalty.InsufficientBalanceError{Available: m.balances[id], Requested: points}
	}
	m.balances[id] -= points
	m.redeemed = append(m.redeemed, id)
	return &loyalty.Transaction{ID: "tx-r", CustomerID: id, Type: loyalty.TransactionRedeem, Points: -points}, nil
}

func (m *mockLoyalty) AdjustPoints(_ context.Context, id string, points int, reason string) (*loyalty.Transaction, error) {
	if reason == "" {
		return nil, apperr.Validation("adjustment reason is required")
	}
	return &loyalty.Transaction{ID: "tx-a", CustomerID: id, Type: loyalty.TransactionAdjustment, Points: points}, nil
}

type mockSettings struct {
	store settings.Store
}

func (m *mockSettings) Get(context.Context) (*settings.Store, error) {
	s := m.store
	return &s, nil
}

func (m *mockSettings) Update(_ context.Context, p settings.Patch) (*settings.Store, error) {
	s, err := settings.Apply(m.store, p, time.Now())
	if err != nil {
		return nil, err
	}
	m.store = s
	return &s, nil
}

type mockKeys struct{}

func (mockKeys) Verify(_ context.Context, key string) (*auth.APIKeyInfo, error) {
	switch key {
	case "staff-key":
		return &auth.APIKeyInfo{ID: "key-1", Scopes: []string{auth.ScopeStaff}}, nil
	case "kiosk-key":
		return &auth.APIKeyInfo{ID: "key-2"}, nil
	}
	return nil, auth.ErrUnauthorized
}

type mockIdempotency struct {
	state        redisx.IdemState
	orderID      string
	err          error
	claimed      []string
	fingerprints []string
	completed    map[string]string
	released     []string
}

func (m *mockIdempotency) Claim(_ context.Context, key, fingerprint string) (redisx.IdemState, string, error) {
	m.claimed = append(m.claimed, key)
	m.fingerprints = append(m.fingerprints, fingerprint)
	return m.state, m.orderID, m.err
}

func (m *mockIdempotency) Complete(_ context.Context, key, fingerprint, orderID string) error {
	m.completed[key] = orderID
	m.fingerprints = append(m.fingerprints, fingerprint)
	return nil
}

func (m *mockIdempotency) Release(_ context.Context, key string) error {
	m.released = append(m.released, key)
	return nil
}

// --- Helpers ---

func sampleOrder(id string) *order.Order {
	return &order.Order{
		ID:            id,
		Number:        7,
		CustomerName:  "Ana",
		CustomerPhone: "11999990000",
		Type:          order.TypePickup,
		Status:        order.StatusPending,
		PaymentMethod: order.PaymentPix,
		PaymentStatus: order.PaymentPending,
		Items: []order.Item{{
			ProductID:   "p1",
			ProductName: "X-Burger",
			Quantity:    2,
			UnitPrice:   decimal.RequireFromString("25"),
			Subtotal:    decimal.RequireFromString("50"),
		}},
		Subtotal:    decimal.RequireFromString("50"),
		DeliveryFee: decimal.Zero,
		Discount:    decimal.Zero,
		Total:       decimal.RequireFromString("50"),
	}
}

type fixture struct {
	orders   *mockOrders
	coupons  *mockCoupons
	loyalty  *mockLoyalty
	settings *mockSettings
	idem     *mockIdempotency
	tokens   *auth.Tokens
	router   chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	promo := decimal.RequireFromString("19.90")
	prep := 20
	f := &fixture{
		orders:   newMockOrders(),
		coupons:  &mockCoupons{coupons: map[string]*coupon.Coupon{"cpn-1": {ID: "cpn-1", Code: "SAVE10", Type: coupon.DiscountPercentage, Value: decimal.NewFromInt(10), Active: true}}},
		loyalty:  &mockLoyalty{balances: map[string]int{"cus-1": 120, "cus-2": 10}},
		settings: &mockSettings{store: settings.Defaults("store", time.Now())},
		tokens:   auth.NewTokens([]byte("test-secret"), time.Hour),
	}
	h := New(Config{ImageBaseURL: "https://cdn.example.com/img/"}, Deps{
		Catalog: &mockCatalog{
			products: []catalog.Product{
				{ID: "p1", Name: "X-Burger", Category: "burgers", ImageURL: "/x-burger.png", Price: decimal.RequireFromString("25"), PromotionalPrice: &promo, PreparationTime: &prep, Available: true, Active: true},
				{ID: "p2", Name: "Soda", Category: "drinks", ImageURL: "https://other.example.com/soda.png", Price: decimal.RequireFromString("6.5"), Available: true, Active: true},
			},
			addons: []catalog.Addon{{ID: "a1", Name: "Bacon", Price: decimal.RequireFromString("4"), Active: true}},
		},
		Orders:    f.orders,
		Validator: &mockValidator{},
		Coupons:   f.coupons,
		Loyalty:   f.loyalty,
		Settings:  f.settings,
		Keys:      mockKeys{},
		Tokens:    f.tokens,
	})
	f.router = h.Routes()
	return f
}

func (f *fixture) withIdempotency(m *mockIdempotency) *fixture {
	m.completed = make(map[string]string)
	f.idem = m
	return f
}

func (f *fixture) handler(t *testing.T) http.Handler {
	t.Helper()
	if f.idem == nil {
		return f.router
	}
	h := New(Config{}, Deps{Orders: f.orders, Tokens: f.tokens, Keys: mockKeys{}, Idempotency: f.idem})
	return h.Routes()
}

func do(t *testing.T, h http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

var staff = map[string]string{HeaderAPIKey: "staff-key"}

func validOrderBody() map[string]any {
	return map[string]any{
		"customerName":  "Ana",
		"customerPhone": "11999990000",
		"orderType":     "pickup",
		"paymentMethod": "pix",
		"couponCode":    "SAVE10",
		"items": []map[string]any{{
			"productId": "p1",
			"quantity":  2,
			"addons":    []map[string]any{{"addonId": "a1", "quantity": 1}},
		}},
	}
}

// --- Tests ---

func TestListProducts(t *testing.T) {
	f := newFixture(t)
	w := do(t, f.router, http.MethodGet, "/products", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	products := decodeBody[[]productResponse](t, w)
	require.Len(t, products, 2)
	assert.Equal(t, "https://cdn.example.com/img/x-burger.png", products[0].ImageURL)
	assert.Equal(t, "25.00", products[0].Price)
	require.NotNil(t, products[0].PromotionalPrice)
	assert.Equal(t, "19.90", *products[0].PromotionalPrice)
	assert.Equal(t, "https://other.example.com/soda.png", products[1].ImageURL, "absolute URLs are kept")

	w = do(t, f.router, http.MethodGet, "/addons", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []addonResponse{{ID: "a1", Name: "Bacon", Price: "4.00"}}, decodeBody[[]addonResponse](t, w))
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	w := do(t, f.router, http.MethodPost, "/orders", validOrderBody(), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeBody[orderResponse](t, w)
	assert.Equal(t, "50.00", resp.Total)
	assert.Equal(t, int64(7), resp.OrderNumber)
	assert.Equal(t, "/api/v1/orders/"+resp.ID, w.Header().Get("Location"))

	require.Len(t, f.orders.created, 1)
	req := f.orders.created[0]
	assert.Equal(t, order.TypePickup, req.Type)
	assert.Equal(t, order.PaymentPix, req.PaymentMethod)
	assert.Equal(t, "SAVE10", req.CouponCode)
	require.Len(t, req.Items, 1)
	assert.Equal(t, 2, req.Items[0].Quantity)
	require.Len(t, req.Items[0].Addons, 1)
	assert.Equal(t, "a1", req.Items[0].Addons[0].AddonID)
	assert.Empty(t, req.CustomerID)
}

func TestCreateOrder_TokenSetsCustomer(t *testing.T) {
	f := newFixture(t)
	token, err := f.tokens.Issue("cus-1", "Ana")
	require.NoError(t, err)

	w := do(t, f.router, http.MethodPost, "/orders", validOrderBody(), map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "cus-1", f.orders.created[0].CustomerID)
}

func TestCreateOrder_BodyCustomer(t *testing.T) {
	f := newFixture(t)
	token, err := f.tokens.Issue("cus-1", "Ana")
	require.NoError(t, err)
	bearer := "Bearer " + token

	tests := []struct {
		name         string
		customerID   string
		hdr          map[string]string
		wantCode     int
		wantCustomer string
	}{
		{name: "Anonymous", customerID: "cus-2", wantCode: http.StatusUnauthorized},
		{name: "KioskKey", customerID: "cus-2", hdr: map[string]string{HeaderAPIKey: "kiosk-key"}, wantCode: http.StatusForbidden},
		{name: "OtherCustomersToken", customerID: "cus-2", hdr: map[string]string{"Authorization": bearer}, wantCode: http.StatusForbidden},
		{name: "OwnToken", customerID: "cus-1", hdr: map[string]string{"Authorization": bearer}, wantCode: http.StatusCreated, wantCustomer: "cus-1"},
		{name: "Staff", customerID: "cus-2", hdr: staff, wantCode: http.StatusCreated, wantCustomer: "cus-2"},
		{name: "StaffWithToken", customerID: "cus-2", hdr: map[string]string{"Authorization": bearer, HeaderAPIKey: "staff-key"}, wantCode: http.StatusCreated, wantCustomer: "cus-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.orders.created = nil
			body := validOrderBody()
			body["customerId"] = tt.customerID

			w := do(t, f.router, http.MethodPost, "/orders", body, tt.hdr)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCustomer == "" {
				assert.Empty(t, f.orders.created)
				return
			}
			require.Len(t, f.orders.created, 1)
			assert.Equal(t, tt.wantCustomer, f.orders.created[0].CustomerID)
		})
	}
}

func TestCreateOrder_UnknownCustomer(t *testing.T) {
	f := newFixture(t)
	f.orders.createFn = func(req order.CreateRequest) (*order.Order, error) {
		return nil, apperr.NotFound("customer %s not found", req.CustomerID)
	}
	body := validOrderBody()
	body["customerId"] = "ghost"

	w := do(t, f.router, http.MethodPost, "/orders", body, staff)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "customer ghost not found", decodeBody[errorResponse](t, w).Message)
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		hdr      map[string]string
		createFn func(order.CreateRequest) (*order.Order, error)
		wantCode int
		wantMsg  string
	}{
		{
			name:     "MalformedJSON",
			body:     `{"items": [`,
			wantCode: http.StatusBadRequest,
			wantMsg:  "malformed JSON body",
		},
		{
			name:     "UnknownField",
			body:     `{"discount": "10"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "EmptyBody",
			body:     nil,
			wantCode: http.StatusBadRequest,
			wantMsg:  "request body is required",
		},
		{
			name: "Validation",
			body: validOrderBody(),
			createFn: func(order.CreateRequest) (*order.Order, error) {
				return nil, apperr.Validation(coupon.MessageNotApplicable)
			},
			wantCode: http.StatusUnprocessableEntity,
			wantMsg:  coupon.MessageNotApplicable,
		},
		{
			name: "MissingProduct",
			body: validOrderBody(),
			createFn: func(order.CreateRequest) (*order.Order, error) {
				return nil, &catalog.ProductNotFoundError{ProductID: "p9"}
			},
			wantCode: http.StatusNotFound,
		},
		{
			name: "CouponExhausted",
			body: validOrderBody(),
			createFn: func(order.CreateRequest) (*order.Order, error) {
				return nil, coupon.ErrUsageLimitReached
			},
			wantCode: http.StatusConflict,
		},
		{
			name: "Internal",
			body: validOrderBody(),
			createFn: func(order.CreateRequest) (*order.Order, error) {
				return nil, errors.New("pq: connection reset")
			},
			wantCode: http.StatusInternalServerError,
			wantMsg:  "internal error",
		},
		{
			name:     "BadToken",
			body:     validOrderBody(),
			hdr:      map[string]string{"Authorization": "Bearer nope"},
			wantCode: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orders.createFn = tt.createFn
			w := do(t, f.router, http.MethodPost, "/orders", tt.body, tt.hdr)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())

			resp := decodeBody[errorResponse](t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, resp.Message)
			}
		})
	}
}

func TestCreateOrder_Idempotency(t *testing.T) {
	hdr := map[string]string{HeaderIdempotencyKey: "retry-1"}

	t.Run("FirstRequest", func(t *testing.T) {
		f := newFixture(t).withIdempotency(&mockIdempotency{state: redisx.IdemNew})
		w := do(t, f.handler(t), http.MethodPost, "/orders", validOrderBody(), hdr)
		require.Equal(t, http.StatusCreated, w.Code)

		id := decodeBody[orderResponse](t, w).ID
		assert.Equal(t, []string{"anon:retry-1"}, f.idem.claimed)
		assert.Equal(t, id, f.idem.completed["anon:retry-1"])
		assert.Empty(t, f.idem.released)
		require.Len(t, f.idem.fingerprints, 2)
		assert.Equal(t, f.idem.fingerprints[0], f.idem.fingerprints[1])
	})
	t.Run("ScopedToCustomer", func(t *testing.T) {
		f := newFixture(t).withIdempotency(&mockIdempotency{state: redisx.IdemNew})
		token, err := f.tokens.Issue("cus-1", "Ana")
		require.NoError(t, err)

		w := do(t, f.handler(t), http.MethodPost, "/orders", validOrderBody(), map[string]string{
			HeaderIdempotencyKey: "retry-1",
			"Authorization":      "Bearer " + token,
		})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, []string{"customer:cus-1:retry-1"}, f.idem.claimed)
	})
	t.Run("FingerprintFollowsBody", func(t *testing.T) {
		f := newFixture(t).withIdempotency(&mockIdempotency{state: redisx.IdemNew})
		other := validOrderBody()
		other["notes"] = "extra napkins"

		do(t, f.handler(t), http.MethodPost, "/orders", validOrderBody(), hdr)
		do(t, f.handler(t), http.MethodPost, "/orders", validOrderBody(), hdr)
		do(t, f.handler(t), http.MethodPost, "/orders", other, hdr)

		claims := f.idem.fingerprints
		require.Len(t, claims, 6)
		assert.Equal(t, claims[0], claims[2], "same body, same fingerprint")
		assert.NotEqual(t, claims[0], claims[4])
	})
	t.Run("DifferentBody", func(t *testing.T) {
		f := newFixture(t).withIdempotency(&mockIdempotency{state: redisx.IdemMismatch})
		w := do(t, f.handler(t), http.MethodPost, "/orders", validOrderBody(), hdr)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, decodeBody[errorResponse](t, w).Message, "different request")
		assert.Empty(t, f.orders.created)
		assert.Empty(t, f.idem.completed)
		assert.Empty(t, f.idem.released)
	})
	t.Run("Replay", func(t *testing.T) {
		f := newFixture(t).withIdempotency(&mockIdempotency{state: redisx.IdemDone, orderID: "ord-1"})
		f.orders.orders["ord-1"] = sampleOrder("ord-1")

		w := do(t, f.handler(t), http.MethodPost, "/orders", validOrderBody(), hdr)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "true", w.Header().Get(HeaderIdempotentReplay))
		assert.Equal(t, "ord-1", decodeBody[orderResponse](t, w).ID)
		assert.Empty(t, f.orders.created, "replay must not create another order")
	})
	t.Run("InFlight", func(t *testing.T) {
		f := newFixture(t).withIdempotency(&mockIdempotency{state: redisx.IdemInFlight})
		w := do(t, f.handler(t), http.MethodPost, "/orders", validOrderBody(), hdr)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Empty(t, f.orders.created)
	})
	t.Run("FailureReleasesKey", func(t *testing.T) {
		f := newFixture(t).withIdempotency(&mockIdempotency{state: redisx.IdemNew})
		f.orders.createFn = func(order.CreateRequest) (*order.Order, error) {
			return nil, apperr.Validation("store is closed")
		}
		w := do(t, f.handler(t), http.MethodPost, "/orders", validOrderBody(), hdr)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, []string{"anon:retry-1"}, f.idem.released)
		assert.Empty(t, f.idem.completed)
	})
	t.Run("StoreDown", func(t *testing.T) {
		f := newFixture(t).withIdempotency(&mockIdempotency{err: errors.New("dial tcp: refused")})
		w := do(t, f.handler(t), http.MethodPost, "/orders", validOrderBody(), hdr)
		assert.Equal(t, http.StatusCreated, w.Code)
	})
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.orders["ord-1"] = sampleOrder("ord-1")

	w := do(t, f.router, http.MethodGet, "/orders/ord-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[orderResponse](t, w)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "25.00", resp.Items[0].UnitPrice)

	w = do(t, f.router, http.MethodGet, "/orders/number/7", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNotFound, do(t, f.router, http.MethodGet, "/orders/missing", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, f.router, http.MethodGet, "/orders/number/abc", nil, nil).Code)
}

func TestStaffRoutes_Auth(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		hdr  map[string]string
		want int
	}{
		{name: "NoKey", want: http.StatusUnauthorized},
		{name: "UnknownKey", hdr: map[string]string{HeaderAPIKey: "wrong"}, want: http.StatusUnauthorized},
		{name: "MissingScope", hdr: map[string]string{HeaderAPIKey: "kiosk-key"}, want: http.StatusForbidden},
		{name: "Staff", hdr: staff, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, f.router, http.MethodGet, "/orders/active", nil, tt.hdr)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	f.orders.orders["ord-1"] = sampleOrder("ord-1")

	tests := []struct {
		path string
		want string
	}{
		{path: "/orders", want: "all"},
		{path: "/orders?status=preparing", want: "status:PREPARING"},
		{path: "/orders/active", want: "active"},
		{path: "/orders/today", want: "today"},
		{path: "/orders/customer/11999990000", want: "phone:11999990000"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(t, f.router, http.MethodGet, tt.path, nil, staff)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, f.orders.listed)
			assert.Len(t, decodeBody[[]orderResponse](t, w), 1)
		})
	}

	w := do(t, f.router, http.MethodGet, "/orders?status=LOST", nil, staff)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrderLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)
	f.orders.orders["ord-1"] = sampleOrder("ord-1")

	w := do(t, f.router, http.MethodPatch, "/orders/ord-1/confirm", nil, staff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.StatusConfirmed, decodeBody[orderResponse](t, w).Status)

	w = do(t, f.router, http.MethodPatch, "/orders/ord-1/status", map[string]string{"status": "ready"}, staff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.StatusReady, decodeBody[orderResponse](t, w).Status)

	w = do(t, f.router, http.MethodPatch, "/orders/ord-1/pay", nil, staff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.PaymentPaid, decodeBody[orderResponse](t, w).PaymentStatus)

	w = do(t, f.router, http.MethodPatch, "/orders/ord-1/payment-status", map[string]string{"paymentStatus": "refunded"}, staff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.PaymentRefunded, decodeBody[orderResponse](t, w).PaymentStatus)

	w = do(t, f.router, http.MethodPatch, "/orders/ord-1/cancel", map[string]string{"reason": ""}, staff)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, f.router, http.MethodPatch, "/orders/ord-1/cancel", map[string]string{"reason": "customer left"}, staff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.StatusCancelled, decodeBody[orderResponse](t, w).Status)

	w = do(t, f.router, http.MethodPatch, "/orders/missing/deliver", nil, staff)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrderStatus_IllegalTransition(t *testing.T) {
	f := newFixture(t)
	f.orders.statusFn = func(string, order.Status) (*order.Order, error) {
		return nil, apperr.IllegalTransition("cannot change a DELIVERED order")
	}
	w := do(t, f.router, http.MethodPatch, "/orders/ord-1/prepare", nil, staff)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "cannot change a DELIVERED order", decodeBody[errorResponse](t, w).Message)
}

func TestValidateCoupon(t *testing.T) {
	f := newFixture(t)

	w := do(t, f.router, http.MethodPost, "/coupons/validate", map[string]any{"code": "SAVE10", "subtotal": "80.00"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[validateCouponResponse](t, w)
	assert.True(t, resp.Valid)
	assert.Equal(t, "8.00", resp.DiscountAmount)

	w = do(t, f.router, http.MethodPost, "/coupons/validate", map[string]any{"code": "NOPE", "subtotal": 80}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeBody[validateCouponResponse](t, w)
	assert.False(t, resp.Valid)
	assert.Equal(t, coupon.MessageInvalid, resp.Message)
	assert.Equal(t, "0.00", resp.DiscountAmount)

	w = do(t, f.router, http.MethodPost, "/coupons/validate", map[string]any{"code": " "}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCouponAdmin(t *testing.T) {
	f := newFixture(t)

	w := do(t, f.router, http.MethodGet, "/coupons", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, f.router, http.MethodGet, "/coupons", nil, staff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]couponResponse](t, w), 1)

	w = do(t, f.router, http.MethodPost, "/coupons", map[string]any{"code": "SAVE10", "type": "fixed", "value": "5"}, staff)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, f.router, http.MethodPost, "/coupons", map[string]any{"code": "FIVE", "type": "fixed", "value": "5"}, staff)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody[couponResponse](t, w)
	assert.Equal(t, coupon.DiscountFixed, created.Type)
	assert.Equal(t, "5.00", created.Value)

	w = do(t, f.router, http.MethodPut, "/coupons/cpn-1", map[string]any{"value": "15"}, staff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "15.00", decodeBody[couponResponse](t, w).Value)

	w = do(t, f.router, http.MethodDelete, "/coupons/cpn-1", nil, staff)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"cpn-1"}, f.coupons.deactivated)

	w = do(t, f.router, http.MethodGet, "/coupons/missing", nil, staff)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterCustomer(t *testing.T) {
	f := newFixture(t)

	w := do(t, f.router, http.MethodPost, "/customers", map[string]string{"name": "Ana", "phone": "11999990000"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	resp := decodeBody[registerCustomerResponse](t, w)
	assert.Equal(t, "cus-new", resp.Customer.ID)
	assert.Equal(t, loyalty.TierBronze, resp.Customer.Tier)

	subject, err := f.tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "cus-new", subject)

	w = do(t, f.router, http.MethodPost, "/customers", map[string]string{"phone": "1"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestLoyalty(t *testing.T) {
	f := newFixture(t)
	own, err := f.tokens.Issue("cus-1", "Ana")
	require.NoError(t, err)
	other, err := f.tokens.Issue("cus-2", "Bia")
	require.NoError(t, err)
	bearer := func(token string) map[string]string {
		return map[string]string{"Authorization": "Bearer " + token}
	}
	redeem := map[string]any{"points": 100}

	w := do(t, f.router, http.MethodGet, "/loyalty/balance/cus-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 120, decodeBody[balanceResponse](t, w).LoyaltyPoints)
	assert.Equal(t, http.StatusNotFound, do(t, f.router, http.MethodGet, "/loyalty/balance/nobody", nil, nil).Code)

	w = do(t, f.router, http.MethodGet, "/loyalty/history/cus-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]transactionResponse](t, w), 1)

	t.Run("Anonymous", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(t, f.router, http.MethodPost, "/loyalty/redeem/cus-1", redeem, nil).Code)
	})
	t.Run("OtherCustomer", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, do(t, f.router, http.MethodPost, "/loyalty/redeem/cus-1", redeem, bearer(other)).Code)
	})
	t.Run("Owner", func(t *testing.T) {
		w := do(t, f.router, http.MethodPost, "/loyalty/redeem/cus-1", redeem, bearer(own))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, -100, decodeBody[transactionResponse](t, w).Points)
		assert.Equal(t, 20, f.loyalty.balances["cus-1"])
	})
	t.Run("InsufficientBalance", func(t *testing.T) {
		w := do(t, f.router, http.MethodPost, "/loyalty/redeem/cus-1", redeem, bearer(own))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, 20, f.loyalty.balances["cus-1"])
	})
	t.Run("Staff", func(t *testing.T) {
		w := do(t, f.router, http.MethodPost, "/loyalty/redeem/cus-2", map[string]any{"points": 5}, staff)
		assert.Equal(t, http.StatusOK, w.Code)
	})
	t.Run("Adjust", func(t *testing.T) {
		body := map[string]any{"points": -5, "reason": "manual fix"}
		assert.Equal(t, http.StatusUnauthorized, do(t, f.router, http.MethodPost, "/loyalty/adjust/cus-1", body, bearer(own)).Code)

		w := do(t, f.router, http.MethodPost, "/loyalty/adjust/cus-1", body, staff)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, loyalty.TransactionAdjustment, decodeBody[transactionResponse](t, w).Type)
	})
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	w := do(t, f.router, http.MethodGet, "/settings", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[settingsResponse](t, w).IsOpen)

	body := map[string]any{"isOpen": false, "deliveryFee": "7.5"}
	assert.Equal(t, http.StatusUnauthorized, do(t, f.router, http.MethodPut, "/settings", body, nil).Code)

	w = do(t, f.router, http.MethodPut, "/settings", body, staff)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[settingsResponse](t, w)
	assert.False(t, resp.IsOpen)
	assert.Equal(t, "7.50", resp.DeliveryFee)
}

func TestSettingsQuotes(t *testing.T) {
	f := newFixture(t)
	threshold := decimal.RequireFromString("100")
	f.settings.store.DeliveryFee = decimal.RequireFromString("8")
	f.settings.store.FreeDeliveryThreshold = &threshold

	tests := []struct {
		path   string
		status int
		amount string
	}{
		{"/settings/delivery-fee?orderTotal=40", http.StatusOK, "8.00"},
		{"/settings/delivery-fee?orderTotal=100", http.StatusOK, "0.00"},
		{"/settings/pix-discount?orderTotal=100", http.StatusOK, "5.00"},
		{"/settings/pix-discount?orderTotal=abc", http.StatusUnprocessableEntity, ""},
		{"/settings/delivery-fee", http.StatusUnprocessableEntity, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(t, f.router, http.MethodGet, tt.path, nil, nil)
			require.Equal(t, tt.status, w.Code)
			if tt.amount != "" {
				assert.Equal(t, tt.amount, decodeBody[quoteResponse](t, w).Amount)
			}
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	w := do(t, f.router, http.MethodGet, "/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "route not found", decodeBody[errorResponse](t, w).Message)
}
