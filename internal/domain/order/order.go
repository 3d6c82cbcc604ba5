package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
)

// Type is how the order reaches the customer.
type Type string

const (
	TypeDelivery Type = "DELIVERY"
	TypePickup   Type = "PICKUP"
	TypeDineIn   Type = "DINE_IN"
)

// Valid reports whether t is a known order type.
func (t Type) Valid() bool {
	switch t {
	case TypeDelivery, TypePickup, TypeDineIn:
		return true
	}
	return false
}

// PaymentMethod is how the customer intends to pay.
type PaymentMethod string

const (
	PaymentPix        PaymentMethod = "PIX"
	PaymentCreditCard PaymentMethod = "CREDIT_CARD"
	PaymentDebitCard  PaymentMethod = "DEBIT_CARD"
	PaymentCash       PaymentMethod = "CASH"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentPix, PaymentCreditCard, PaymentDebitCard, PaymentCash:
		return true
	}
	return false
}

// PaymentStatus tracks payment independently from the order status.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentRefunded:
		return true
	}
	return false
}

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.Wrap(apperr.ErrNotFound, "order")

// Order is one customer purchase. It exclusively owns its items.
type Order struct {
	ID     string
	Number int64
	// CustomerID links the order to a loyalty account when the buyer is known.
	CustomerID           *string
	CustomerName         string
	CustomerPhone        string
	CustomerEmail        string
	DeliveryAddress      string
	DeliveryComplement   string
	DeliveryNeighborhood string
	Type                 Type
	Status               Status
	PaymentMethod        PaymentMethod
	PaymentStatus        PaymentStatus
	Items                []Item
	Subtotal             decimal.Decimal
	DeliveryFee          decimal.Decimal
	Discount             decimal.Decimal
	Total                decimal.Decimal
	ChangeFor            *decimal.Decimal
	CouponID             *string
	CouponCode           string
	Notes                string
	EstimatedTime        int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Item is one order line with price and name snapshots.
type Item struct {
	ID          string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Notes       string
	Subtotal    decimal.Decimal
	Addons      []ItemAddon
}

// ItemAddon is an addon attached to an order line.
type ItemAddon struct {
	ID        string
	AddonID   string
	AddonName string
	Quantity  int
	Price     decimal.Decimal
}

// Filter narrows order listings. Zero fields are ignored.
type Filter struct {
	Status        Status
	ExcludeStatus []Status
	CustomerPhone string
	CreatedAfter  *time.Time
}

// Repository provides order persistence.
type Repository interface {
	// NextNumber returns the next order number from a race-free sequence.
	NextNumber(ctx context.Context) (int64, error)
	// Create inserts the order together with its items and addons.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate loads an order and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number int64) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, error)
	// UpdateState persists status, payment status, notes and UpdatedAt.
	UpdateState(ctx context.Context, o *Order) error
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
