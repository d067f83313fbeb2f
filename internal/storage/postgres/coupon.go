package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const couponColumns = `code, description, discount_type, value, min_purchase, max_discount,
	usage_limit, usage_per_user, used_count, starts_at, ends_at, scope, active`

const (
	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	lockCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 FOR UPDATE`

	getCouponUsageSQL = `SELECT count FROM coupon_usages WHERE code = $1 AND user_id = $2`

	incrementCouponSQL = `UPDATE coupons SET used_count = used_count + 1 WHERE code = $1`

	incrementCouponUsageSQL = `INSERT INTO coupon_usages (code, user_id, count) VALUES ($1, $2, 1)
		ON CONFLICT (code, user_id) DO UPDATE SET count = coupon_usages.count + 1`

	// used_count is owned by checkout and survives re-imports.
	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description, discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value, min_purchase = EXCLUDED.min_purchase,
			max_discount = EXCLUDED.max_discount, usage_limit = EXCLUDED.usage_limit,
			usage_per_user = EXCLUDED.usage_per_user, starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at, scope = EXCLUDED.scope, active = EXCLUDED.active`
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

// FindByCode looks up a coupon by its normalized code.
// Returns coupon.ErrNotFound when no coupon has that code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return findCoupon(ctx, r.pool, getCouponSQL, coupon.NormalizeCode(code))
}

// UserUsage returns how often userID has redeemed code.
func (r *CouponRepository) UserUsage(ctx context.Context, code, userID string) (int, error) {
	return couponUsage(ctx, r.pool, coupon.NormalizeCode(code), userID)
}

// Upsert inserts or replaces coupon definitions in one batch. Redemption
// counters of existing coupons are kept.
func (r *CouponRepository) Upsert(ctx context.Context, coupons ...coupon.Coupon) error {
	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL,
			coupon.NormalizeCode(c.Code), c.Description, string(c.DiscountType), c.Value,
			c.MinPurchase, c.MaxDiscount, c.UsageLimit, c.UsagePerUser, c.UsedCount,
			c.StartsAt, c.EndsAt, string(c.Scope), c.Active,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert coupons")
	}
	return nil
}

type queryRower interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findCoupon(ctx context.Context, q queryRower, sql, code string) (*coupon.Coupon, error) {
	rows, err := q.Query(ctx, sql, code)
	if err != nil {
		return nil, errors.Wrapf(err, "query coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "scan coupon %q", code)
	}
	return &c, nil
}

func couponUsage(ctx context.Context, q queryRower, code, userID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, getCouponUsageSQL, code, userID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "query usage of coupon %q", code)
	}
	return n, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		scope        string
		startsAt     *time.Time
		endsAt       *time.Time
	)
	err := row.Scan(
		&c.Code, &c.Description, &discountType, &c.Value, &c.MinPurchase, &c.MaxDiscount,
		&c.UsageLimit, &c.UsagePerUser, &c.UsedCount, &startsAt, &endsAt, &scope, &c.Active,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.Scope = coupon.Scope(scope)
	c.StartsAt = startsAt
	c.EndsAt = endsAt
	return c, err
}
