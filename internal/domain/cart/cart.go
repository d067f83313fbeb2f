package cart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

// Item is a pending selection. Items are one-time licenses, so there is no
// quantity: a cart holds at most one Item per (ProductID, ProductType).
type Item struct {
	ProductID   string
	ProductType product.Type
	UnitPrice   decimal.Decimal
	Title       string
	Image       string
	AddedAt     time.Time
}

// Key identifies a product within a cart.
type Key struct {
	ProductID   string
	ProductType product.Type
}

// Key returns the cart key of the item.
func (i Item) Key() Key {
	return Key{ProductID: i.ProductID, ProductType: i.ProductType}
}

// Cart is the current selection of one user, ordered by AddedAt.
type Cart struct {
	UserID string
	Items  []Item
}

// Total sums the snapshot prices of all items. It is derived on every call
// rather than stored.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.UnitPrice)
	}
	return total
}

// Empty reports whether the cart holds no items.
func (c *Cart) Empty() bool {
	return len(c.Items) == 0
}

// Repository persists carts. Implementations scope every call to a single
// user; a cart springs into existence on the first Upsert.
type Repository interface {
	// Items returns the user's items ordered by AddedAt.
	Items(ctx context.Context, userID string) ([]Item, error)
	// Upsert inserts item or, when the key is already present, replaces its
	// price, title and image while keeping the original AddedAt.
	Upsert(ctx context.Context, userID string, item Item) error
	// Remove deletes items matching productID. An empty typ matches every
	// product type. Missing items are not an error.
	Remove(ctx context.Context, userID, productID string, typ product.Type) error
	// Clear deletes every item of the user.
	Clear(ctx context.Context, userID string) error
}
