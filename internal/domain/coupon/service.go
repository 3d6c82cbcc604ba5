package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
)

// NewCoupon holds the input for creating a coupon.
type NewCoupon struct {
	Code             string
	Description      string
	Type             DiscountType
	Value            decimal.Decimal
	MinOrderValue    *decimal.Decimal
	MaxDiscountValue *decimal.Decimal
	UsageLimit       *int
	MaxUsesPerUser   *int
	StartDate        *time.Time
	ExpirationDate   *time.Time
}

// Patch lists the coupon fields an admin may change. Nil fields are left as is.
type Patch struct {
	Description      *string
	Value            *decimal.Decimal
	MinOrderValue    *decimal.Decimal
	MaxDiscountValue *decimal.Decimal
	UsageLimit       *int
	MaxUsesPerUser   *int
	ExpirationDate   *time.Time
	Active           *bool
}

// ApplyPatch returns a copy of c with the non-nil fields of p applied.
func ApplyPatch(c Coupon, p Patch, now time.Time) Coupon {
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Value != nil {
		c.Value = *p.Value
	}
	if p.MinOrderValue != nil {
		c.MinOrderValue = p.MinOrderValue
	}
	if p.MaxDiscountValue != nil {
		c.MaxDiscountValue = p.MaxDiscountValue
	}
	if p.UsageLimit != nil {
		c.UsageLimit = p.UsageLimit
	}
	if p.MaxUsesPerUser != nil {
		c.MaxUsesPerUser = p.MaxUsesPerUser
	}
	if p.ExpirationDate != nil {
		c.ExpirationDate = p.ExpirationDate
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
	c.UpdatedAt = now
	return c
}

// Service implements coupon administration.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a coupon Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns active coupons.
func (s *Service) List(ctx context.Context) ([]Coupon, error) {
	coupons, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return coupons, nil
}

// Get returns a coupon by ID, active or not.
func (s *Service) Get(ctx context.Context, id string) (*Coupon, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and stores a new coupon. Codes are unique regardless of case.
func (s *Service) Create(ctx context.Context, in NewCoupon) (*Coupon, error) {
	c, err := s.Build(in)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByCode(ctx, c.Code)
	if err != nil {
		return nil, errors.Wrap(err, "check coupon code")
	}
	if exists {
		return nil, &apperr.Error{Kind: ErrDuplicateCode, Message: "a coupon with code " + c.Code + " already exists"}
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// Build validates in and returns the active coupon it describes without
// storing it. The code is trimmed and upper-cased.
func (s *Service) Build(in NewCoupon) (*Coupon, error) {
	code := strings.TrimSpace(in.Code)
	if err := validateNew(code, in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	return &Coupon{
		ID:               uuid.NewString(),
		Code:             strings.ToUpper(code),
		Description:      in.Description,
		Type:             in.Type,
		Value:            in.Value,
		MinOrderValue:    in.MinOrderValue,
		MaxDiscountValue: in.MaxDiscountValue,
		UsageLimit:       in.UsageLimit,
		MaxUsesPerUser:   in.MaxUsesPerUser,
		StartDate:        in.StartDate,
		ExpirationDate:   in.ExpirationDate,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Update applies p to the coupon identified by id. The patched coupon must
// satisfy the same rules as a new one, and its usage limit may not drop below
// the uses already recorded.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*Coupon, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := ApplyPatch(*c, p, s.now().UTC())
	if err := validateRules(&updated); err != nil {
		return nil, err
	}
	if updated.UsageLimit != nil && *updated.UsageLimit < updated.UsageCount {
		return nil, apperr.Validation("usage limit %d is below the %d uses already recorded", *updated.UsageLimit, updated.UsageCount)
	}
	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, errors.Wrap(err, "update coupon")
	}
	return &updated, nil
}

// Deactivate soft-deletes a coupon.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	inactive := false
	_, err := s.Update(ctx, id, Patch{Active: &inactive})
	return err
}

func validateNew(code string, in NewCoupon) error {
	if len(code) < 3 || len(code) > 50 {
		return apperr.Validation("code must be between 3 and 50 characters")
	}
	return validateRules(&Coupon{
		Type:             in.Type,
		Value:            in.Value,
		MinOrderValue:    in.MinOrderValue,
		MaxDiscountValue: in.MaxDiscountValue,
		UsageLimit:       in.UsageLimit,
		MaxUsesPerUser:   in.MaxUsesPerUser,
		StartDate:        in.StartDate,
		ExpirationDate:   in.ExpirationDate,
	})
}

// validateRules checks the discount rule of c, leaving the code aside.
func validateRules(c *Coupon) error {
	switch {
	case !c.Type.Valid():
		return apperr.Validation("unknown discount type %q", c.Type)
	case !c.Value.IsPositive():
		return apperr.Validation("value must be positive")
	case c.Type == DiscountPercentage && c.Value.GreaterThan(decimal.NewFromInt(100)):
		return apperr.Validation("percentage value must not exceed 100")
	case c.MinOrderValue != nil && !c.MinOrderValue.IsPositive():
		return apperr.Validation("minimum order value must be positive")
	case c.MaxDiscountValue != nil && !c.MaxDiscountValue.IsPositive():
		return apperr.Validation("maximum discount value must be positive")
	case c.UsageLimit != nil && *c.UsageLimit < 1:
		return apperr.Validation("usage limit must be at least 1")
	case c.MaxUsesPerUser != nil && *c.MaxUsesPerUser < 1:
		return apperr.Validation("max uses per user must be at least 1")
	case c.StartDate != nil && c.ExpirationDate != nil && c.ExpirationDate.Before(*c.StartDate):
		return apperr.Validation("expiration date must be after start date")
	}
	return nil
}
