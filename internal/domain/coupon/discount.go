package coupon

import (
	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/internal/domain/pricing"
)

// Discount calculates the discount the coupon grants on subtotal.
//
// FIXED coupons take their value; PERCENTAGE coupons take value percent of
// the subtotal rounded half-up and capped at MaxDiscountValue. The result
// never exceeds the subtotal and is never negative.
func Discount(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.Type {
	case DiscountFixed:
		amount = c.Value
	case DiscountPercentage:
		amount = pricing.Percent(subtotal, c.Value)
		if c.MaxDiscountValue != nil {
			amount = decimal.Min(amount, *c.MaxDiscountValue)
		}
	default:
		return decimal.Zero
	}

	amount = decimal.Min(amount, subtotal)
	return floorAtZero(amount).Round(2)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
