// Package pricing turns requested order lines into priced, snapshotted lines
// and computes order totals.
package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
	"github.com/cardapiopro/cardapio-api/internal/domain/catalog"
)

const (
	// DefaultItemPrepMinutes applies to products without a preparation time.
	DefaultItemPrepMinutes = 15
	// DefaultOrderPrepMinutes applies when an order has no items to estimate from.
	DefaultOrderPrepMinutes = 30
)

var hundred = decimal.NewFromInt(100)

// ItemRequest is one requested order line.
type ItemRequest struct {
	ProductID string
	Quantity  int
	Note      string
	Addons    []AddonRequest
}

// AddonRequest selects an addon for an order line.
type AddonRequest struct {
	AddonID  string
	Quantity int
}

// PricedAddon is an addon with its name and price captured at pricing time.
type PricedAddon struct {
	AddonID  string
	Name     string
	Quantity int
	Price    decimal.Decimal
}

// PricedItem is an order line with its unit price snapshot and subtotal.
type PricedItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Note        string
	Addons      []PricedAddon
	Subtotal    decimal.Decimal
}

// Priced is the result of pricing a set of order lines.
type Priced struct {
	Items         []PricedItem
	Subtotal      decimal.Decimal
	EstimatedTime int
}

// Engine prices order lines against the catalog.
type Engine struct {
	catalog catalog.Lookup
}

// NewEngine creates a pricing Engine backed by the given catalog lookup.
func NewEngine(lookup catalog.Lookup) *Engine {
	return &Engine{catalog: lookup}
}

// Price resolves every product and addon referenced by items, snapshots their
// prices and names, and computes item subtotals, the order subtotal and the
// estimated preparation time. Any missing product or addon fails the whole call.
func (e *Engine) Price(ctx context.Context, items []ItemRequest) (*Priced, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("order must contain at least one item")
	}

	productIDs := make([]string, 0, len(items))
	var addonIDs []string
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, apperr.Validation("quantity must be at least 1 for product %s", item.ProductID)
		}
		productIDs = append(productIDs, item.ProductID)
		for _, a := range item.Addons {
			if a.Quantity < 1 {
				return nil, apperr.Validation("quantity must be at least 1 for addon %s", a.AddonID)
			}
			addonIDs = append(addonIDs, a.AddonID)
		}
	}

	var (
		products map[string]catalog.Product
		addons   map[string]catalog.Addon
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found, err := e.catalog.ProductsByIDs(gctx, dedupe(productIDs))
		if err != nil {
			return errors.Wrap(err, "lookup products")
		}
		products = make(map[string]catalog.Product, len(found))
		for _, p := range found {
			products[p.ID] = p
		}
		return nil
	})
	if len(addonIDs) > 0 {
		g.Go(func() error {
			found, err := e.catalog.AddonsByIDs(gctx, dedupe(addonIDs))
			if err != nil {
				return errors.Wrap(err, "lookup addons")
			}
			addons = make(map[string]catalog.Addon, len(found))
			for _, a := range found {
				addons[a.ID] = a
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	priced := &Priced{
		Items:    make([]PricedItem, 0, len(items)),
		Subtotal: decimal.Zero,
	}
	for _, item := range items {
		p, ok := products[item.ProductID]
		if !ok || !p.Active {
			return nil, &catalog.ProductNotFoundError{ProductID: item.ProductID}
		}

		line := PricedItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    item.Quantity,
			UnitPrice:   p.UnitPrice(),
			Note:        item.Note,
		}
		for _, req := range item.Addons {
			a, ok := addons[req.AddonID]
			if !ok || !a.Active {
				return nil, &catalog.AddonNotFoundError{AddonID: req.AddonID}
			}
			line.Addons = append(line.Addons, PricedAddon{
				AddonID:  a.ID,
				Name:     a.Name,
				Quantity: req.Quantity,
				Price:    a.Price,
			})
		}
		line.Subtotal = ItemSubtotal(line.UnitPrice, line.Addons, line.Quantity)

		priced.Items = append(priced.Items, line)
		priced.Subtotal = priced.Subtotal.Add(line.Subtotal)
	}
	priced.Subtotal = Round(priced.Subtotal)
	priced.EstimatedTime = EstimatedTime(products, items)

	return priced, nil
}

// ItemSubtotal computes (unitPrice + Σ addon.Price × addon.Quantity) × quantity.
// Addon totals scale with the item quantity.
func ItemSubtotal(unitPrice decimal.Decimal, addons []PricedAddon, quantity int) decimal.Decimal {
	perUnit := unitPrice
	for _, a := range addons {
		perUnit = perUnit.Add(a.Price.Mul(decimal.NewFromInt(int64(a.Quantity))))
	}
	return Round(perUnit.Mul(decimal.NewFromInt(int64(quantity))))
}

// EstimatedTime returns the longest preparation time among the requested
// products, counting DefaultItemPrepMinutes for products without one.
func EstimatedTime(products map[string]catalog.Product, items []ItemRequest) int {
	if len(items) == 0 {
		return DefaultOrderPrepMinutes
	}
	longest := 0
	for _, item := range items {
		minutes := DefaultItemPrepMinutes
		if p, ok := products[item.ProductID]; ok && p.PreparationTime != nil {
			minutes = *p.PreparationTime
		}
		longest = max(longest, minutes)
	}
	return longest
}

// Total computes subtotal + deliveryFee − discount, clamped at zero and
// rounded to two decimal places.
func Total(subtotal, deliveryFee, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(deliveryFee).Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return Round(total)
}

// Percent returns amount × percent / 100 rounded half-up to two places.
func Percent(amount, percent decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(percent).Div(hundred))
}

// Round rounds half away from zero to two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
