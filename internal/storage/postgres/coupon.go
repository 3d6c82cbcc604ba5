package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardapiopro/cardapio-api/internal/domain/coupon"
)

const (
	couponColumns = `id, code, description, discount_type, discount_value, min_order_value,
		max_discount_value, usage_limit, max_uses_per_user, usage_count, start_date,
		expiration_date, active, created_at, updated_at`

	getActiveCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	listActiveCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE active = TRUE ORDER BY created_at DESC`

	couponCodeExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE UPPER(code) = UPPER($1))`

	insertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	updateCouponSQL = `UPDATE coupons SET description = $2, discount_type = $3, discount_value = $4,
		min_order_value = $5, max_discount_value = $6, usage_limit = $7, max_uses_per_user = $8,
		start_date = $9, expiration_date = $10, active = $11, updated_at = $12
		WHERE id = $1`

	// The guard makes concurrent redemptions of the last use race-free.
	incrementCouponUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1, updated_at = now()
		WHERE id = $1 AND active = TRUE AND (usage_limit IS NULL OR usage_count < usage_limit)`

	countCustomerCouponUsesSQL = `SELECT COUNT(*) FROM orders WHERE coupon_id = $1 AND customer_id = $2`

	listCouponCodesSQL = `SELECT UPPER(code) FROM coupons`

	insertCouponIgnoreSQL = insertCouponSQL + ` ON CONFLICT DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindActiveByCode looks up an active coupon by its code (case-insensitive).
// Returns coupon.ErrNotFound when no matching active coupon exists.
func (r *CouponRepository) FindActiveByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.one(ctx, getActiveCouponByCodeSQL, code)
}

// Get returns a coupon by ID regardless of its active flag.
func (r *CouponRepository) Get(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.one(ctx, getCouponSQL, id)
}

// ListActive returns active coupons, newest first.
func (r *CouponRepository) ListActive(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listActiveCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// ExistsByCode reports whether any coupon, active or not, uses code.
func (r *CouponRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := conn(ctx, r.pool).QueryRow(ctx, couponCodeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking coupon code %q: %w", code, err)
	}
	return exists, nil
}

// Create inserts a new coupon.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertCouponSQL,
		c.ID, c.Code, c.Description, string(c.Type), c.Value, c.MinOrderValue,
		c.MaxDiscountValue, c.UsageLimit, c.MaxUsesPerUser, c.UsageCount, c.StartDate,
		c.ExpirationDate, c.Active, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Codes streams every stored coupon code, upper-cased, to fn.
func (r *CouponRepository) Codes(ctx context.Context, fn func(code string)) error {
	rows, err := conn(ctx, r.pool).Query(ctx, listCouponCodesSQL)
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing coupon codes: %w", err)
	}
	return nil
}

// CreateMany inserts coupons in one batch and reports how many were stored.
// Coupons whose code is already taken are skipped.
func (r *CouponRepository) CreateMany(ctx context.Context, coupons []*coupon.Coupon) (int, error) {
	b := &pgx.Batch{}
	for _, c := range coupons {
		b.Queue(insertCouponIgnoreSQL,
			c.ID, c.Code, c.Description, string(c.Type), c.Value, c.MinOrderValue,
			c.MaxDiscountValue, c.UsageLimit, c.MaxUsesPerUser, c.UsageCount, c.StartDate,
			c.ExpirationDate, c.Active, c.CreatedAt, c.UpdatedAt,
		)
	}

	br := conn(ctx, r.pool).SendBatch(ctx, b)
	defer func() { _ = br.Close() }()

	var inserted int
	for range coupons {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("inserting coupon batch: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, br.Close()
}

// Update persists the editable fields of c. The code and usage counter are
// never rewritten here.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateCouponSQL,
		c.ID, c.Description, string(c.Type), c.Value, c.MinOrderValue, c.MaxDiscountValue,
		c.UsageLimit, c.MaxUsesPerUser, c.StartDate, c.ExpirationDate, c.Active, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// IncrementUsage bumps the usage counter of an active coupon with uses left.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, incrementCouponUsageSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing usage for coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUsageLimitReached
	}
	return nil
}

// CountCustomerUses counts the orders customerID placed with the coupon.
func (r *CouponRepository) CountCustomerUses(ctx context.Context, couponID, customerID string) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, countCustomerCouponUsesSQL, couponID, customerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting uses of coupon %q: %w", couponID, err)
	}
	return n, nil
}

func (r *CouponRepository) one(ctx context.Context, sql string, arg string) (*coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting coupon %q: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting coupon %q: %w", arg, err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		usageLimit   *int32
		perUser      *int32
		usageCount   int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.Value, &c.MinOrderValue,
		&c.MaxDiscountValue, &usageLimit, &perUser, &usageCount, &c.StartDate,
		&c.ExpirationDate, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Type = coupon.DiscountType(discountType)
	c.UsageLimit = intPtr(usageLimit)
	c.MaxUsesPerUser = intPtr(perUser)
	c.UsageCount = int(usageCount)
	return c, err
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
