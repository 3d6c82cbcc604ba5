package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Messages returned in Result.Message. Unknown and inactive codes share one
// message so callers cannot probe which codes ever existed.
const (
	MessageInvalid       = "invalid or expired coupon"
	MessageNotApplicable = "coupon not applicable to this order (check minimum value or validity)"
	MessagePerUserLimit  = "per-user usage limit reached"
	MessageApplied       = "coupon applied"
)

// Result is the outcome of validating a coupon code against an order.
type Result struct {
	Valid          bool
	Code           string
	Type           DiscountType
	DiscountAmount decimal.Decimal
	Message        string
	// Coupon is set when the code resolved to an active coupon.
	Coupon *Coupon
}

// Validator decides coupon applicability. It never mutates coupon state;
// usage is incremented separately by the order flow.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// NewValidator creates a Validator backed by the given Repository.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// Validate checks code against subtotal and, when customerID is non-empty,
// the per-customer usage limit. Business rejections are reported through
// Result.Valid; only infrastructure failures are returned as errors.
func (v *Validator) Validate(ctx context.Context, code string, subtotal decimal.Decimal, customerID string) (*Result, error) {
	res := &Result{Code: code, DiscountAmount: decimal.Zero}

	c, err := v.repo.FindActiveByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			res.Message = MessageInvalid
			return res, nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	res.Type = c.Type
	res.Coupon = c

	if !c.IsValid(subtotal, v.now()) {
		res.Message = MessageNotApplicable
		return res, nil
	}

	if c.MaxUsesPerUser != nil && customerID != "" {
		used, err := v.repo.CountCustomerUses(ctx, c.ID, customerID)
		if err != nil {
			return nil, errors.Wrap(err, "count customer coupon uses")
		}
		if used >= *c.MaxUsesPerUser {
			res.Message = MessagePerUserLimit
			return res, nil
		}
	}

	res.Valid = true
	res.Code = c.Code
	res.DiscountAmount = Discount(c, subtotal)
	res.Message = MessageApplied
	return res, nil
}
