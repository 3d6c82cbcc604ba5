// Package catalog describes the menu: products and the addons that can be
// attached to them. Catalog data is read-only for the ordering pipeline.
package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
)

// Product represents a menu item available for purchase.
type Product struct {
	ID               string
	Name             string
	Description      string
	Category         string
	ImageURL         string
	Price            decimal.Decimal
	PromotionalPrice *decimal.Decimal
	// PreparationTime is the kitchen time in minutes, when known.
	PreparationTime *int
	Available       bool
	Active          bool
}

// UnitPrice returns the promotional price when one is set, otherwise the list price.
func (p Product) UnitPrice() decimal.Decimal {
	if p.PromotionalPrice != nil {
		return *p.PromotionalPrice
	}
	return p.Price
}

// Addon is an optional extra that can be attached to an order item.
type Addon struct {
	ID     string
	Name   string
	Price  decimal.Decimal
	Active bool
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return apperr.ErrNotFound }

// AddonNotFoundError indicates a requested addon does not exist.
type AddonNotFoundError struct {
	AddonID string
}

func (e *AddonNotFoundError) Error() string {
	return fmt.Sprintf("addon %s not found", e.AddonID)
}

func (e *AddonNotFoundError) Unwrap() error { return apperr.ErrNotFound }

// Lookup resolves products and addons in batches. Implementations return
// only the entities that exist; callers detect missing IDs.
type Lookup interface {
	ProductsByIDs(ctx context.Context, ids []string) ([]Product, error)
	AddonsByIDs(ctx context.Context, ids []string) ([]Addon, error)
}

// Repository extends Lookup with the menu listing.
type Repository interface {
	Lookup
	ListProducts(ctx context.Context) ([]Product, error)
	ListAddons(ctx context.Context) ([]Addon, error)
}
