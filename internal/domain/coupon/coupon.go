package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal, optionally capped.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixed takes a fixed amount off the subtotal.
	DiscountFixed DiscountType = "FIXED"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

var (
	// ErrNotFound is returned when no coupon matches the lookup.
	ErrNotFound = errors.Wrap(apperr.ErrNotFound, "coupon")
	// ErrUsageLimitReached is returned when incrementing usage of an exhausted coupon.
	ErrUsageLimitReached = errors.Wrap(apperr.ErrIllegalTransition, "coupon usage limit reached")
	// ErrDuplicateCode is returned when creating a coupon whose code already exists.
	ErrDuplicateCode = errors.Wrap(apperr.ErrValidation, "coupon code already exists")
)

// Coupon is a named discount rule with a validity window and usage limits.
type Coupon struct {
	ID               string
	Code             string
	Description      string
	Type             DiscountType
	Value            decimal.Decimal
	MinOrderValue    *decimal.Decimal
	MaxDiscountValue *decimal.Decimal
	UsageLimit       *int
	MaxUsesPerUser   *int
	UsageCount       int
	StartDate        *time.Time
	ExpirationDate   *time.Time
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsValid reports whether the coupon can be applied to an order with the
// given subtotal at time now.
func (c *Coupon) IsValid(subtotal decimal.Decimal, now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return false
	}
	if c.ExpirationDate != nil && now.After(*c.ExpirationDate) {
		return false
	}
	if c.MinOrderValue != nil && subtotal.LessThan(*c.MinOrderValue) {
		return false
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return false
	}
	return true
}

// Repository provides coupon persistence.
type Repository interface {
	// FindActiveByCode looks up an active coupon by code, case-insensitively.
	FindActiveByCode(ctx context.Context, code string) (*Coupon, error)
	Get(ctx context.Context, id string) (*Coupon, error)
	ListActive(ctx context.Context) ([]Coupon, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	// IncrementUsage atomically bumps the usage counter unless the coupon is
	// inactive or exhausted, in which case it returns ErrUsageLimitReached.
	IncrementUsage(ctx context.Context, id string) error
	// CountCustomerUses counts orders by customerID that used the coupon.
	CountCustomerUses(ctx context.Context, couponID, customerID string) (int, error)
}
