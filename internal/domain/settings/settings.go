// Package settings holds the store-wide configuration edited by staff:
// opening state, delivery options, fees and the PIX discount.
package settings

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
	"github.com/cardapiopro/cardapio-api/internal/domain/pricing"
)

// ErrNotFound is returned by repositories when no settings row exists yet.
var ErrNotFound = errors.Wrap(apperr.ErrNotFound, "store settings")

// Store is the single settings record of the store.
type Store struct {
	ID                    string
	StoreName             string
	Description           string
	Whatsapp              string
	Address               string
	LogoURL               string
	IsOpen                bool
	DeliveryEnabled       bool
	PickupEnabled         bool
	DeliveryFee           decimal.Decimal
	MinOrderValue         decimal.Decimal
	DeliveryTimeMin       int
	DeliveryTimeMax       int
	FreeDeliveryThreshold *decimal.Decimal
	PixKey                string
	PixDiscountPercent    decimal.Decimal
	UpdatedAt             time.Time
}

// Defaults returns the settings a fresh store starts with.
func Defaults(id string, now time.Time) Store {
	return Store{
		ID:                 id,
		StoreName:          "My Store",
		IsOpen:             true,
		DeliveryEnabled:    true,
		PickupEnabled:      true,
		DeliveryFee:        decimal.Zero,
		MinOrderValue:      decimal.Zero,
		DeliveryTimeMin:    30,
		DeliveryTimeMax:    50,
		PixDiscountPercent: decimal.RequireFromString("5.00"),
		UpdatedAt:          now,
	}
}

// DeliveryFeeFor returns the delivery fee for an order subtotal. Orders at or
// above the free-delivery threshold ship for free.
func (s Store) DeliveryFeeFor(subtotal decimal.Decimal) decimal.Decimal {
	if s.FreeDeliveryThreshold != nil && subtotal.GreaterThanOrEqual(*s.FreeDeliveryThreshold) {
		return decimal.Zero
	}
	return s.DeliveryFee
}

// PixDiscountFor returns the discount granted when paying total via PIX.
func (s Store) PixDiscountFor(total decimal.Decimal) decimal.Decimal {
	if !s.PixDiscountPercent.IsPositive() {
		return decimal.Zero
	}
	return pricing.Percent(total, s.PixDiscountPercent)
}

// Patch lists editable settings. Nil fields are left as is.
type Patch struct {
	StoreName             *string
	Description           *string
	Whatsapp              *string
	Address               *string
	LogoURL               *string
	IsOpen                *bool
	DeliveryEnabled       *bool
	PickupEnabled         *bool
	DeliveryFee           *decimal.Decimal
	MinOrderValue         *decimal.Decimal
	DeliveryTimeMin       *int
	DeliveryTimeMax       *int
	FreeDeliveryThreshold *decimal.Decimal
	PixKey                *string
	PixDiscountPercent    *decimal.Decimal
}

// Apply returns a copy of s with p applied, or a validation error when the
// result would be inconsistent.
func Apply(s Store, p Patch, now time.Time) (Store, error) {
	setString(&s.StoreName, p.StoreName)
	setString(&s.Description, p.Description)
	setString(&s.Whatsapp, p.Whatsapp)
	setString(&s.Address, p.Address)
	setString(&s.LogoURL, p.LogoURL)
	setString(&s.PixKey, p.PixKey)
	if p.IsOpen != nil {
		s.IsOpen = *p.IsOpen
	}
	if p.DeliveryEnabled != nil {
		s.DeliveryEnabled = *p.DeliveryEnabled
	}
	if p.PickupEnabled != nil {
		s.PickupEnabled = *p.PickupEnabled
	}
	if p.DeliveryFee != nil {
		s.DeliveryFee = *p.DeliveryFee
	}
	if p.MinOrderValue != nil {
		s.MinOrderValue = *p.MinOrderValue
	}
	if p.DeliveryTimeMin != nil {
		s.DeliveryTimeMin = *p.DeliveryTimeMin
	}
	if p.DeliveryTimeMax != nil {
		s.DeliveryTimeMax = *p.DeliveryTimeMax
	}
	if p.FreeDeliveryThreshold != nil {
		s.FreeDeliveryThreshold = p.FreeDeliveryThreshold
	}
	if p.PixDiscountPercent != nil {
		s.PixDiscountPercent = *p.PixDiscountPercent
	}

	switch {
	case s.DeliveryFee.IsNegative():
		return Store{}, apperr.Validation("delivery fee must not be negative")
	case s.MinOrderValue.IsNegative():
		return Store{}, apperr.Validation("minimum order value must not be negative")
	case s.PixDiscountPercent.IsNegative() || s.PixDiscountPercent.GreaterThan(decimal.NewFromInt(100)):
		return Store{}, apperr.Validation("pix discount must be between 0 and 100")
	case s.DeliveryTimeMin < 0 || s.DeliveryTimeMax < s.DeliveryTimeMin:
		return Store{}, apperr.Validation("delivery time range is invalid")
	}
	s.UpdatedAt = now
	return s, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Repository stores the settings record.
type Repository interface {
	// Get returns the settings record or ErrNotFound.
	Get(ctx context.Context) (*Store, error)
	Save(ctx context.Context, s *Store) error
}
