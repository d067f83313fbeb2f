package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	getProductSQL = `SELECT id, type, title, image, price, sale_price
		FROM products WHERE id = $1 AND type = $2`

	upsertProductSQL = `INSERT INTO products (id, type, title, image, price, sale_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id, type) DO UPDATE SET
			title = EXCLUDED.title, image = EXCLUDED.image,
			price = EXCLUDED.price, sale_price = EXCLUDED.sale_price`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// Get returns the product identified by (id, typ).
func (r *ProductRepository) Get(ctx context.Context, id string, typ product.Type) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductSQL, id, string(typ))
	if err != nil {
		return nil, errors.Wrapf(err, "query product %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "product", ID: id}
		}
		return nil, errors.Wrapf(err, "scan product %q", id)
	}
	return &p, nil
}

// Upsert inserts or replaces catalog products in one batch.
func (r *ProductRepository) Upsert(ctx context.Context, products ...product.Product) error {
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(upsertProductSQL, p.ID, string(p.Type), p.Title, p.Image, p.Price, p.SalePrice)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p   product.Product
		typ string
	)
	err := row.Scan(&p.ID, &typ, &p.Title, &p.Image, &p.Price, &p.SalePrice)
	p.Type = product.Type(typ)
	return p, err
}
