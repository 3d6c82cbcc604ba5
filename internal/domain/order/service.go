package order

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
	"github.com/cardapiopro/cardapio-api/internal/domain/coupon"
	"github.com/cardapiopro/cardapio-api/internal/domain/loyalty"
	"github.com/cardapiopro/cardapio-api/internal/domain/pricing"
	"github.com/cardapiopro/cardapio-api/internal/domain/settings"
)

const (
	maxOrderNotes = 500
	maxItemNotes  = 300
)

// Pricer prices requested order lines.
type Pricer interface {
	Price(ctx context.Context, items []pricing.ItemRequest) (*pricing.Priced, error)
}

// CouponValidator checks a coupon code against an order subtotal.
type CouponValidator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, customerID string) (*coupon.Result, error)
}

// CouponUsage records a coupon redemption.
type CouponUsage interface {
	IncrementUsage(ctx context.Context, id string) error
}

// SettingsProvider exposes the current store settings.
type SettingsProvider interface {
	Get(ctx context.Context) (*settings.Store, error)
}

// LoyaltyRecorder credits a delivered order to the customer's account.
type LoyaltyRecorder interface {
	RecordOrder(ctx context.Context, customerID string, order loyalty.OrderRef) (*loyalty.Transaction, error)
}

// CustomerLookup resolves a registered customer by id.
type CustomerLookup interface {
	Customer(ctx context.Context, id string) (*loyalty.Customer, error)
}

// Deps are the collaborators of Service. Settings, Loyalty, Publisher and
// the telemetry providers are optional. Without Customers, orders naming a
// customer are rejected.
type Deps struct {
	Orders         Repository
	Tx             TxRunner
	Pricer         Pricer
	Coupons        CouponValidator
	CouponUsage    CouponUsage
	Settings       SettingsProvider
	Loyalty        LoyaltyRecorder
	Customers      CustomerLookup
	Publisher      Publisher
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Clock          func() time.Time
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	CustomerID           string
	CustomerName         string
	CustomerPhone        string
	CustomerEmail        string
	DeliveryAddress      string
	DeliveryComplement   string
	DeliveryNeighborhood string
	Type                 Type
	PaymentMethod        PaymentMethod
	ChangeFor            *decimal.Decimal
	// DeliveryFee overrides the store delivery fee when set.
	DeliveryFee *decimal.Decimal
	CouponCode  string
	Notes       string
	Items       []pricing.ItemRequest
}

// Service orchestrates order creation and lifecycle changes.
type Service struct {
	orders    Repository
	tx        TxRunner
	pricer    Pricer
	coupons   CouponValidator
	usage     CouponUsage
	settings  SettingsProvider
	loyalty   LoyaltyRecorder
	customers CustomerLookup
	publisher Publisher
	now       func() time.Time

	tracer         trace.Tracer
	ordersCreated  metric.Int64Counter
	statusChanges  metric.Int64Counter
	couponRejected metric.Int64Counter
}

// NewService creates an order Service.
func NewService(deps Deps) (*Service, error) {
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.TracerProvider == nil {
		deps.TracerProvider = tracenoop.NewTracerProvider()
	}
	if deps.MeterProvider == nil {
		deps.MeterProvider = metricnoop.NewMeterProvider()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	s := &Service{
		orders:    deps.Orders,
		tx:        deps.Tx,
		pricer:    deps.Pricer,
		coupons:   deps.Coupons,
		usage:     deps.CouponUsage,
		settings:  deps.Settings,
		loyalty:   deps.Loyalty,
		customers: deps.Customers,
		publisher: deps.Publisher,
		now:       deps.Clock,
		tracer:    deps.TracerProvider.Tracer("cardapio/order"),
	}

	meter := deps.MeterProvider.Meter("cardapio/order")
	var err error
	if s.ordersCreated, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.statusChanges, err = meter.Int64Counter("orders.status_changes",
		metric.WithDescription("Order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.status_changes counter")
	}
	if s.couponRejected, err = meter.Int64Counter("orders.coupon_rejected",
		metric.WithDescription("Orders rejected because of an inapplicable coupon"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.coupon_rejected counter")
	}
	return s, nil
}

// checkCustomer verifies that a named customer exists.
func (s *Service) checkCustomer(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if s.customers == nil {
		return apperr.NotFound("customer %s not found", id)
	}
	if _, err := s.customers.Customer(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.NotFound("customer %s not found", id)
		}
		return errors.Wrap(err, "get customer")
	}
	return nil
}

// Create validates, prices and persists a new order. The order number, the
// order rows and the coupon usage increment are written in one transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer span.End()

	if err := validateCreate(req); err != nil {
		return nil, err
	}
	if err := s.checkCustomer(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	store, err := s.storeSettings(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkStore(store, req.Type); err != nil {
		return nil, err
	}

	priced, err := s.pricer.Price(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	if store != nil && priced.Subtotal.LessThan(store.MinOrderValue) {
		return nil, apperr.Validation("minimum order value is %s", store.MinOrderValue.StringFixed(2))
	}

	fee := deliveryFee(req, store, priced.Subtotal)

	discount := decimal.Zero
	var applied *coupon.Coupon
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		res, err := s.coupons.Validate(ctx, code, priced.Subtotal, req.CustomerID)
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		if !res.Valid {
			s.couponRejected.Add(ctx, 1)
			return nil, apperr.Validation("%s", res.Message)
		}
		discount = res.DiscountAmount
		applied = res.Coupon
	}

	now := s.now().UTC()
	o := &Order{
		ID:                   uuid.NewString(),
		CustomerName:         strings.TrimSpace(req.CustomerName),
		CustomerPhone:        strings.TrimSpace(req.CustomerPhone),
		CustomerEmail:        strings.TrimSpace(req.CustomerEmail),
		DeliveryAddress:      strings.TrimSpace(req.DeliveryAddress),
		DeliveryComplement:   req.DeliveryComplement,
		DeliveryNeighborhood: req.DeliveryNeighborhood,
		Type:                 req.Type,
		Status:               StatusPending,
		PaymentMethod:        req.PaymentMethod,
		PaymentStatus:        PaymentPending,
		Items:                buildItems(priced.Items),
		Subtotal:             priced.Subtotal,
		DeliveryFee:          pricing.Round(fee),
		Discount:             pricing.Round(discount),
		ChangeFor:            req.ChangeFor,
		Notes:                req.Notes,
		EstimatedTime:        priced.EstimatedTime,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	o.Total = pricing.Total(o.Subtotal, o.DeliveryFee, o.Discount)
	if req.CustomerID != "" {
		id := req.CustomerID
		o.CustomerID = &id
	}
	if applied != nil {
		id := applied.ID
		o.CouponID = &id
		o.CouponCode = applied.Code
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		number, err := s.orders.NextNumber(ctx)
		if err != nil {
			return errors.Wrap(err, "next order number")
		}
		o.Number = number

		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if o.CouponID != nil {
			if err := s.usage.IncrementUsage(ctx, *o.CouponID); err != nil {
				return errors.Wrap(err, "increment coupon usage")
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(o.Type))))
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.Int64("number", o.Number),
		zap.String("total", o.Total.StringFixed(2)),
	)
	s.publish(ctx, newEvent(EventCreated, o))
	return o, nil
}

// UpdateStatus moves an order to status. Moving to DELIVERED credits the
// linked customer's loyalty account in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(attribute.String("status", string(status))),
	)
	defer span.End()

	o, err := s.mutate(ctx, id, func(ctx context.Context, o *Order) error {
		if err := Transition(o, status, s.now().UTC()); err != nil {
			return err
		}
		if status == StatusDelivered && o.CustomerID != nil && s.loyalty != nil {
			if _, err := s.loyalty.RecordOrder(ctx, *o.CustomerID, loyalty.OrderRef{
				ID:     o.ID,
				Number: o.Number,
				Total:  o.Total,
			}); err != nil {
				return errors.Wrap(err, "record loyalty")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.statusChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	s.publish(ctx, newEvent(EventStatusChanged, o))
	return o, nil
}

// Cancel cancels an order, appending reason to its notes.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel")
	defer span.End()

	o, err := s.mutate(ctx, id, func(_ context.Context, o *Order) error {
		return Cancel(o, reason, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	s.statusChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(StatusCancelled))))
	s.publish(ctx, newEvent(EventStatusChanged, o))
	return o, nil
}

// MarkPaid sets the payment status to PAID.
func (s *Service) MarkPaid(ctx context.Context, id string) (*Order, error) {
	return s.SetPaymentStatus(ctx, id, PaymentPaid)
}

// SetPaymentStatus sets the payment status directly.
func (s *Service) SetPaymentStatus(ctx context.Context, id string, status PaymentStatus) (*Order, error) {
	o, err := s.mutate(ctx, id, func(_ context.Context, o *Order) error {
		return SetPaymentStatus(o, status, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, newEvent(EventPaymentStatus, o))
	return o, nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.Get(ctx, id)
}

// GetByNumber returns an order by its human-readable number.
func (s *Service) GetByNumber(ctx context.Context, number int64) (*Order, error) {
	return s.orders.GetByNumber(ctx, number)
}

// List returns all orders, newest first.
func (s *Service) List(ctx context.Context) ([]Order, error) {
	return s.orders.List(ctx, Filter{})
}

// ListByStatus returns orders in the given status.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown order status %q", status)
	}
	return s.orders.List(ctx, Filter{Status: status})
}

// ListActive returns orders that are neither delivered nor cancelled.
func (s *Service) ListActive(ctx context.Context) ([]Order, error) {
	return s.orders.List(ctx, Filter{ExcludeStatus: []Status{StatusDelivered, StatusCancelled}})
}

// ListToday returns orders created since local midnight.
func (s *Service) ListToday(ctx context.Context) ([]Order, error) {
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.orders.List(ctx, Filter{CreatedAfter: &midnight})
}

// ListByCustomerPhone returns orders placed with the given phone number.
func (s *Service) ListByCustomerPhone(ctx context.Context, phone string) ([]Order, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, apperr.Validation("phone is required")
	}
	return s.orders.List(ctx, Filter{CustomerPhone: phone})
}

// mutate loads the order under lock, applies fn and persists the result, all
// in one transaction. Nothing is written when fn fails.
func (s *Service) mutate(ctx context.Context, id string, fn func(ctx context.Context, o *Order) error) (*Order, error) {
	var out *Order
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, o); err != nil {
			return err
		}
		if err := s.orders.UpdateState(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, e Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("event", e.Name),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

func (s *Service) storeSettings(ctx context.Context) (*settings.Store, error) {
	if s.settings == nil {
		return nil, nil
	}
	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load store settings")
	}
	return st, nil
}

func validateCreate(req CreateRequest) error {
	if req.Type == TypeDelivery && strings.TrimSpace(req.DeliveryAddress) == "" {
		return apperr.Validation("delivery address is required for delivery orders")
	}
	switch {
	case strings.TrimSpace(req.CustomerName) == "":
		return apperr.Validation("customer name is required")
	case strings.TrimSpace(req.CustomerPhone) == "":
		return apperr.Validation("customer phone is required")
	case !req.Type.Valid():
		return apperr.Validation("unknown order type %q", req.Type)
	case !req.PaymentMethod.Valid():
		return apperr.Validation("unknown payment method %q", req.PaymentMethod)
	case len(req.Items) == 0:
		return apperr.Validation("order must contain at least one item")
	case utf8.RuneCountInString(req.Notes) > maxOrderNotes:
		return apperr.Validation("notes must be at most %d characters", maxOrderNotes)
	case req.DeliveryFee != nil && req.DeliveryFee.IsNegative():
		return apperr.Validation("delivery fee must not be negative")
	case req.ChangeFor != nil && req.ChangeFor.IsNegative():
		return apperr.Validation("change must not be negative")
	}
	for _, item := range req.Items {
		if utf8.RuneCountInString(item.Note) > maxItemNotes {
			return apperr.Validation("item notes must be at most %d characters", maxItemNotes)
		}
	}
	return nil
}

func checkStore(st *settings.Store, typ Type) error {
	if st == nil {
		return nil
	}
	switch {
	case !st.IsOpen:
		return apperr.Validation("store is closed")
	case typ == TypeDelivery && !st.DeliveryEnabled:
		return apperr.Validation("delivery is not available")
	case typ == TypePickup && !st.PickupEnabled:
		return apperr.Validation("pickup is not available")
	}
	return nil
}

func deliveryFee(req CreateRequest, st *settings.Store, subtotal decimal.Decimal) decimal.Decimal {
	if req.DeliveryFee != nil {
		return *req.DeliveryFee
	}
	if req.Type != TypeDelivery || st == nil {
		return decimal.Zero
	}
	return st.DeliveryFeeFor(subtotal)
}

func buildItems(priced []pricing.PricedItem) []Item {
	items := make([]Item, len(priced))
	for i, p := range priced {
		item := Item{
			ID:          uuid.NewString(),
			ProductID:   p.ProductID,
			ProductName: p.ProductName,
			Quantity:    p.Quantity,
			UnitPrice:   p.UnitPrice,
			Notes:       p.Note,
			Subtotal:    p.Subtotal,
		}
		for _, a := range p.Addons {
			item.Addons = append(item.Addons, ItemAddon{
				ID:        uuid.NewString(),
				AddonID:   a.AddonID,
				AddonName: a.Name,
				Quantity:  a.Quantity,
				Price:     a.Price,
			})
		}
		items[i] = item
	}
	return items
}
