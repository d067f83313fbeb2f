package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

const orderColumns = `id::text, number, user_id, subtotal, discount, coalesce(coupon_code, ''), total,
	status, payment_method, created_at, updated_at`

const (
	insertOrderSQL = `INSERT INTO orders (id, number, user_id, subtotal, discount, coupon_code, total,
		status, payment_method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, position, product_id, product_type, title, image, price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertStatusChangeSQL = `INSERT INTO order_status_history (order_id, seq, from_status, to_status, changed_at)
		VALUES ($1, $2, $3, $4, $5)`

	consumeCartItemSQL = `DELETE FROM cart_items
		WHERE user_id = $1 AND product_id = $2 AND product_type = $3
		RETURNING unit_price`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC`

	listOrderItemsSQL = `SELECT product_id, product_type, title, image, price
		FROM order_items WHERE order_id = $1 ORDER BY position`

	listStatusHistorySQL = `SELECT from_status, to_status, changed_at
		FROM order_status_history WHERE order_id = $1 ORDER BY seq`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists o in one transaction. The frozen items are deleted from
// the cart first; a concurrent checkout of the same cart blocks on those
// rows and then finds them gone. With a redemption, the coupon row is locked
// FOR UPDATE and its caps are re-checked before one use is consumed, so
// concurrent checkouts for the last use serialize here.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, red *coupon.Redemption) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := consumeCart(ctx, tx, o); err != nil {
			return err
		}
		if red != nil {
			if err := redeem(ctx, tx, red); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.Number, o.UserID, o.Subtotal, o.Discount, o.CouponCode, o.Total,
			string(o.Status), string(o.PaymentMethod), o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return errors.Wrap(err, "insert order")
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(insertOrderItemSQL, o.ID, i, it.ProductID, string(it.ProductType), it.Title, it.Image, it.Price)
		}
		for i, ch := range o.History {
			batch.Queue(insertStatusChangeSQL, o.ID, i, string(ch.From), string(ch.To), ch.At)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "insert order items")
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "create order %s", o.ID)
	}
	return nil
}

func consumeCart(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	for _, it := range o.Items {
		var price decimal.Decimal
		err := tx.QueryRow(ctx, consumeCartItemSQL, o.UserID, it.ProductID, string(it.ProductType)).Scan(&price)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && !price.Equal(it.Price)) {
			return errors.Wrapf(order.ErrCartChanged, "item %s/%s", it.ProductID, it.ProductType)
		}
		if err != nil {
			return errors.Wrap(err, "consume cart item")
		}
	}
	return nil
}

func redeem(ctx context.Context, tx pgx.Tx, red *coupon.Redemption) error {
	code := coupon.NormalizeCode(red.Code)
	c, err := findCoupon(ctx, tx, lockCouponSQL, code)
	if err != nil {
		return err
	}
	usage, err := couponUsage(ctx, tx, code, red.UserID)
	if err != nil {
		return err
	}
	if err := c.CheckCaps(usage); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, incrementCouponSQL, code); err != nil {
		return errors.Wrap(err, "increment coupon usage")
	}
	if _, err := tx.Exec(ctx, incrementCouponUsageSQL, code, red.UserID); err != nil {
		return errors.Wrap(err, "increment per-user coupon usage")
	}
	return nil
}

// Transition locks the order row, runs fn and persists the change.
func (r *OrderRepository) Transition(ctx context.Context, id string, fn order.TransitionFunc) (*order.Order, error) {
	var out *order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		o, err := loadOrder(ctx, tx, lockOrderSQL, id)
		if err != nil {
			return err
		}
		change, err := fn(o)
		if err != nil {
			return err
		}
		if change != nil {
			if _, err := tx.Exec(ctx, updateOrderStatusSQL, id, string(change.To), change.At); err != nil {
				return errors.Wrap(err, "update order status")
			}
			if _, err := tx.Exec(ctx, insertStatusChangeSQL,
				id, len(o.History), string(change.From), string(change.To), change.At,
			); err != nil {
				return errors.Wrap(err, "insert status change")
			}
			o.Status = change.To
			o.UpdatedAt = change.At
			o.History = append(o.History, *change)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the order with its items and history.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return loadOrder(ctx, r.pool, getOrderSQL, id)
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "scan orders")
	}
	for i := range orders {
		if err := loadOrderDetails(ctx, r.pool, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func loadOrder(ctx context.Context, q queryRower, sql, id string) (*order.Order, error) {
	// Order IDs are UUIDs; anything else cannot exist.
	if _, err := uuid.Parse(id); err != nil {
		return nil, &domain.NotFoundError{Entity: "order", ID: id}
	}
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, errors.Wrapf(err, "query order %s", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "order", ID: id}
		}
		return nil, errors.Wrapf(err, "scan order %s", id)
	}
	if err := loadOrderDetails(ctx, q, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func loadOrderDetails(ctx context.Context, q queryRower, o *order.Order) error {
	rows, err := q.Query(ctx, listOrderItemsSQL, o.ID)
	if err != nil {
		return errors.Wrapf(err, "query items of order %s", o.ID)
	}
	if o.Items, err = pgx.CollectRows(rows, scanOrderItem); err != nil {
		return errors.Wrapf(err, "scan items of order %s", o.ID)
	}

	rows, err = q.Query(ctx, listStatusHistorySQL, o.ID)
	if err != nil {
		return errors.Wrapf(err, "query history of order %s", o.ID)
	}
	if o.History, err = pgx.CollectRows(rows, scanStatusChange); err != nil {
		return errors.Wrapf(err, "scan history of order %s", o.ID)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o       order.Order
		status  string
		payment string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &o.Subtotal, &o.Discount, &o.CouponCode, &o.Total,
		&status, &payment, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(payment)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it  order.Item
		typ string
	)
	err := row.Scan(&it.ProductID, &typ, &it.Title, &it.Image, &it.Price)
	it.ProductType = product.Type(typ)
	return it, err
}

func scanStatusChange(row pgx.CollectableRow) (order.StatusChange, error) {
	var (
		ch       order.StatusChange
		from, to string
	)
	err := row.Scan(&from, &to, &ch.At)
	ch.From = order.Status(from)
	ch.To = order.Status(to)
	return ch, err
}
