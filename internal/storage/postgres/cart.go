package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	listCartItemsSQL = `SELECT product_id, product_type, unit_price, title, image, added_at
		FROM cart_items WHERE user_id = $1 ORDER BY added_at, product_id`

	// added_at is left untouched on conflict so a re-added item keeps its slot.
	upsertCartItemSQL = `INSERT INTO cart_items (user_id, product_id, product_type, unit_price, title, image, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, product_id, product_type) DO UPDATE SET
			unit_price = EXCLUDED.unit_price, title = EXCLUDED.title, image = EXCLUDED.image`

	removeCartItemSQL = `DELETE FROM cart_items
		WHERE user_id = $1 AND product_id = $2 AND ($3 = '' OR product_type = $3)`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Items returns the user's cart items ordered by AddedAt.
func (r *CartRepository) Items(ctx context.Context, userID string) ([]cart.Item, error) {
	rows, err := r.pool.Query(ctx, listCartItemsSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query cart items")
	}
	items, err := pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, errors.Wrap(err, "scan cart items")
	}
	return items, nil
}

// Upsert inserts item or refreshes its snapshot.
func (r *CartRepository) Upsert(ctx context.Context, userID string, it cart.Item) error {
	_, err := r.pool.Exec(ctx, upsertCartItemSQL,
		userID, it.ProductID, string(it.ProductType), it.UnitPrice, it.Title, it.Image, it.AddedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert cart item %q", it.ProductID)
	}
	return nil
}

// Remove deletes matching items; an empty typ matches every type.
func (r *CartRepository) Remove(ctx context.Context, userID, productID string, typ product.Type) error {
	if _, err := r.pool.Exec(ctx, removeCartItemSQL, userID, productID, string(typ)); err != nil {
		return errors.Wrapf(err, "remove cart item %q", productID)
	}
	return nil
}

// Clear deletes every item of the user.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var (
		it  cart.Item
		typ string
	)
	err := row.Scan(&it.ProductID, &typ, &it.UnitPrice, &it.Title, &it.Image, &it.AddedAt)
	it.ProductType = product.Type(typ)
	return it, err
}
