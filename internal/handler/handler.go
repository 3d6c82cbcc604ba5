// Package handler exposes the ordering platform over HTTP under /api/v1.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/internal/domain/auth"
	"github.com/cardapiopro/cardapio-api/internal/domain/catalog"
	"github.com/cardapiopro/cardapio-api/internal/domain/coupon"
	"github.com/cardapiopro/cardapio-api/internal/domain/loyalty"
	"github.com/cardapiopro/cardapio-api/internal/domain/order"
	"github.com/cardapiopro/cardapio-api/internal/domain/settings"
	"github.com/cardapiopro/cardapio-api/internal/storage/redisx"
)

// Catalog lists the menu.
type Catalog interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	ListAddons(ctx context.Context) ([]catalog.Addon, error)
}

// Orders is the order orchestrator.
type Orders interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	UpdateStatus(ctx context.Context, id string, status order.Status) (*order.Order, error)
	Cancel(ctx context.Context, id, reason string) (*order.Order, error)
	MarkPaid(ctx context.Context, id string) (*order.Order, error)
	SetPaymentStatus(ctx context.Context, id string, status order.PaymentStatus) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	GetByNumber(ctx context.Context, number int64) (*order.Order, error)
	List(ctx context.Context) ([]order.Order, error)
	ListByStatus(ctx context.Context, status order.Status) ([]order.Order, error)
	ListActive(ctx context.Context) ([]order.Order, error)
	ListToday(ctx context.Context) ([]order.Order, error)
	ListByCustomerPhone(ctx context.Context, phone string) ([]order.Order, error)
}

// CouponValidator previews a coupon against a subtotal.
type CouponValidator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, customerID string) (*coupon.Result, error)
}

// Coupons administers coupons.
type Coupons interface {
	List(ctx context.Context) ([]coupon.Coupon, error)
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	Create(ctx context.Context, in coupon.NewCoupon) (*coupon.Coupon, error)
	Update(ctx context.Context, id string, p coupon.Patch) (*coupon.Coupon, error)
	Deactivate(ctx context.Context, id string) error
}

// Loyalty is the customer ledger.
type Loyalty interface {
	Register(ctx context.Context, in loyalty.NewCustomer) (*loyalty.Customer, error)
	Balance(ctx context.Context, customerID string) (*loyalty.Balance, error)
	History(ctx context.Context, customerID string) ([]loyalty.Transaction, error)
	RedeemPoints(ctx context.Context, customerID string, points int, description string) (*loyalty.Transaction, error)
	AdjustPoints(ctx context.Context, customerID string, points int, reason string) (*loyalty.Transaction, error)
}

// Settings reads and edits the store settings.
type Settings interface {
	Get(ctx context.Context) (*settings.Store, error)
	Update(ctx context.Context, p settings.Patch) (*settings.Store, error)
}

// KeyVerifier authenticates staff API keys.
type KeyVerifier interface {
	Verify(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// TokenCodec issues and parses customer bearer tokens.
type TokenCodec interface {
	Issue(customerID, name string) (string, error)
	Parse(token string) (string, error)
}

// Idempotency deduplicates order creation by Idempotency-Key. Keys are
// scoped per customer and bound to a fingerprint of the request body.
type Idempotency interface {
	Claim(ctx context.Context, key, fingerprint string) (redisx.IdemState, string, error)
	Complete(ctx context.Context, key, fingerprint, orderID string) error
	Release(ctx context.Context, key string) error
}

// Config holds non-dependency handler settings.
type Config struct {
	// ImageBaseURL is prepended to relative product image paths.
	ImageBaseURL string
}

// Deps are the collaborators of Handler. Idempotency is optional.
type Deps struct {
	Catalog     Catalog
	Orders      Orders
	Validator   CouponValidator
	Coupons     Coupons
	Loyalty     Loyalty
	Settings    Settings
	Keys        KeyVerifier
	Tokens      TokenCodec
	Idempotency Idempotency
}

// Handler serves the REST API.
type Handler struct {
	catalog   Catalog
	orders    Orders
	validator CouponValidator
	coupons   Coupons
	loyalty   Loyalty
	settings  Settings
	keys      KeyVerifier
	tokens    TokenCodec
	idem      Idempotency

	imageBaseURL string
}

// New creates a Handler.
func New(cfg Config, deps Deps) *Handler {
	return &Handler{
		catalog:      deps.Catalog,
		orders:       deps.Orders,
		validator:    deps.Validator,
		coupons:      deps.Coupons,
		loyalty:      deps.Loyalty,
		settings:     deps.Settings,
		keys:         deps.Keys,
		tokens:       deps.Tokens,
		idem:         deps.Idempotency,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes returns the API router, meant to be mounted at /api/v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.identify)

	r.Get("/products", h.listProducts)
	r.Get("/addons", h.listAddons)
	r.Get("/settings", h.getSettings)
	r.Get("/settings/delivery-fee", h.quote(settings.Store.DeliveryFeeFor))
	r.Get("/settings/pix-discount", h.quote(settings.Store.PixDiscountFor))
	r.Post("/customers", h.registerCustomer)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/number/{number}", h.getOrderByNumber)

		r.Group(func(r chi.Router) {
			r.Use(h.requireStaff)
			r.Get("/", h.listOrders)
			r.Get("/active", h.listActiveOrders)
			r.Get("/today", h.listTodayOrders)
			r.Get("/customer/{phone}", h.listCustomerOrders)
			r.Patch("/{id}/status", h.updateOrderStatus)
			r.Patch("/{id}/confirm", h.moveOrder(order.StatusConfirmed))
			r.Patch("/{id}/prepare", h.moveOrder(order.StatusPreparing))
			r.Patch("/{id}/ready", h.moveOrder(order.StatusReady))
			r.Patch("/{id}/deliver", h.moveOrder(order.StatusDelivered))
			r.Patch("/{id}/cancel", h.cancelOrder)
			r.Patch("/{id}/pay", h.payOrder)
			r.Patch("/{id}/payment-status", h.setPaymentStatus)
		})

		r.Get("/{id}", h.getOrder)
	})

	r.Route("/coupons", func(r chi.Router) {
		r.Post("/validate", h.validateCoupon)

		r.Group(func(r chi.Router) {
			r.Use(h.requireStaff)
			r.Get("/", h.listCoupons)
			r.Post("/", h.createCoupon)
			r.Get("/{id}", h.getCoupon)
			r.Put("/{id}", h.updateCoupon)
			r.Delete("/{id}", h.deactivateCoupon)
		})
	})

	r.Route("/loyalty", func(r chi.Router) {
		r.Get("/balance/{customerID}", h.loyaltyBalance)
		r.Get("/history/{customerID}", h.loyaltyHistory)
		r.Post("/redeem/{customerID}", h.redeemPoints)
		r.With(h.requireStaff).Post("/adjust/{customerID}", h.adjustPoints)
	})

	r.With(h.requireStaff).Put("/settings", h.updateSettings)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
