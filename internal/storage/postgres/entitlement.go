package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/entitlement"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	hasCompletedItemSQL = `SELECT EXISTS (
		SELECT 1 FROM orders o JOIN order_items i ON i.order_id = o.id
		WHERE o.user_id = $1 AND o.status = $4 AND i.product_id = $2 AND i.product_type = $3)`

	listCompletedItemsSQL = `SELECT i.product_id, i.product_type, i.title, o.id::text, o.created_at
		FROM orders o JOIN order_items i ON i.order_id = o.id
		WHERE o.user_id = $1 AND o.status = $2
		ORDER BY o.created_at, i.position`
)

var _ entitlement.Repository = (*EntitlementRepository)(nil)

// EntitlementRepository reads entitlements straight from completed orders.
type EntitlementRepository struct {
	pool *pgxpool.Pool
}

// NewEntitlementRepository returns an EntitlementRepository that uses the given pool.
func NewEntitlementRepository(pool *pgxpool.Pool) *EntitlementRepository {
	return &EntitlementRepository{pool: pool}
}

// HasCompletedItem reports whether a completed order of userID holds the product.
func (r *EntitlementRepository) HasCompletedItem(ctx context.Context, userID, productID string, typ product.Type) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, hasCompletedItemSQL,
		userID, productID, string(typ), string(order.StatusCompleted),
	).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "query completed item")
	}
	return ok, nil
}

// ListCompletedItems returns every item of the user's completed orders,
// oldest purchase first.
func (r *EntitlementRepository) ListCompletedItems(ctx context.Context, userID string) ([]entitlement.Grant, error) {
	rows, err := r.pool.Query(ctx, listCompletedItemsSQL, userID, string(order.StatusCompleted))
	if err != nil {
		return nil, errors.Wrap(err, "query completed items")
	}
	grants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entitlement.Grant, error) {
		var (
			g   entitlement.Grant
			typ string
		)
		err := row.Scan(&g.ProductID, &typ, &g.Title, &g.OrderID, &g.PurchasedAt)
		g.ProductType = product.Type(typ)
		return g, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan completed items")
	}
	return grants, nil
}
