// Package loyalty keeps customer commerce metrics and the points ledger.
package loyalty

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
)

// Tier is a loyalty classification derived from lifetime points.
type Tier string

const (
	TierBronze   Tier = "BRONZE"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
)

// TierFor returns the tier for the given lifetime points.
func TierFor(lifetimePoints int) Tier {
	switch {
	case lifetimePoints >= 10000:
		return TierPlatinum
	case lifetimePoints >= 5000:
		return TierGold
	case lifetimePoints >= 1000:
		return TierSilver
	default:
		return TierBronze
	}
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionEarn       TransactionType = "EARN"
	TransactionRedeem     TransactionType = "REDEEM"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
)

// CustomerStatus is the lifecycle state of a customer account.
type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "ACTIVE"
	CustomerInactive CustomerStatus = "INACTIVE"
)

// ErrNotFound is returned when a customer does not exist.
var ErrNotFound = errors.Wrap(apperr.ErrNotFound, "customer")

// InsufficientBalanceError indicates a redemption above the spendable balance.
type InsufficientBalanceError struct {
	Requested int
	Available int
}

func (e *InsufficientBalanceError) Error() string {
	return "insufficient loyalty points"
}

func (e *InsufficientBalanceError) Unwrap() error { return apperr.ErrInsufficientBalance }

// Customer accumulates order history and loyalty points.
type Customer struct {
	ID             string
	Name           string
	Email          string
	Phone          string
	Status         CustomerStatus
	TotalOrders    int
	TotalSpent     decimal.Decimal
	AverageTicket  decimal.Decimal
	FirstOrderAt   *time.Time
	LastOrderAt    *time.Time
	LoyaltyPoints  int
	LifetimePoints int
	Tier           Tier
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// addPoints credits both balances and recomputes the tier.
func (c *Customer) addPoints(points int) {
	c.LoyaltyPoints += points
	c.LifetimePoints += points
	c.Tier = TierFor(c.LifetimePoints)
}

// recordOrder folds a completed order into the commerce metrics.
func (c *Customer) recordOrder(total decimal.Decimal, at time.Time) {
	c.TotalOrders++
	c.TotalSpent = c.TotalSpent.Add(total)
	c.AverageTicket = c.TotalSpent.Div(decimal.NewFromInt(int64(c.TotalOrders))).Round(2)
	if c.FirstOrderAt == nil {
		c.FirstOrderAt = &at
	}
	c.LastOrderAt = &at
}

// Transaction is an immutable ledger entry. Points are signed.
type Transaction struct {
	ID          string
	CustomerID  string
	Type        TransactionType
	Points      int
	Description string
	OrderID     *string
	CreatedAt   time.Time
}

// Balance is the read projection of a customer's points.
type Balance struct {
	CustomerID     string
	Name           string
	LoyaltyPoints  int
	LifetimePoints int
	Tier           Tier
}

// OrderRef identifies the order that earned points.
type OrderRef struct {
	ID     string
	Number int64
	Total  decimal.Decimal
}

// Repository provides customer and ledger persistence.
type Repository interface {
	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	// LockCustomer loads a customer and holds a row lock until the
	// surrounding transaction ends.
	LockCustomer(ctx context.Context, id string) (*Customer, error)
	SaveCustomer(ctx context.Context, c *Customer) error
	AppendTransaction(ctx context.Context, tx *Transaction) error
	// History returns the customer's transactions, newest first.
	History(ctx context.Context, customerID string) ([]Transaction, error)
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
