// Package entitlement answers which purchased products a user may download.
//
// Entitlements are not stored. A user is entitled to a product exactly while
// one of their orders containing it is completed, so a refund revokes access
// without any bookkeeping of its own.
package entitlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
)

// Grant is one downloadable product and the order that paid for it.
type Grant struct {
	ProductID   string
	ProductType product.Type
	Title       string
	OrderID     string
	PurchasedAt time.Time
}

// Repository queries completed orders. Implementations must read the
// current order state; no caching.
type Repository interface {
	HasCompletedItem(ctx context.Context, userID, productID string, typ product.Type) (bool, error)
	ListCompletedItems(ctx context.Context, userID string) ([]Grant, error)
}

// Resolver resolves entitlements from completed orders.
type Resolver struct {
	repo Repository
}

// NewResolver creates a Resolver.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// HasAccess reports whether the identity may download the product.
func (r *Resolver) HasAccess(ctx context.Context, id auth.Identity, productID string, typ product.Type) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	if _, err := product.ParseType(string(typ)); err != nil {
		return false, err
	}
	ok, err := r.repo.HasCompletedItem(ctx, id.UserID, productID, typ)
	if err != nil {
		return false, errors.Wrap(err, "query completed orders")
	}
	return ok, nil
}

// List returns every product the identity may download. A product bought
// in several completed orders is listed once, with its earliest purchase.
func (r *Resolver) List(ctx context.Context, id auth.Identity) ([]Grant, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	grants, err := r.repo.ListCompletedItems(ctx, id.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list completed orders")
	}

	type key struct {
		id  string
		typ product.Type
	}
	seen := make(map[key]int, len(grants))
	out := make([]Grant, 0, len(grants))
	for _, g := range grants {
		k := key{g.ProductID, g.ProductType}
		if i, ok := seen[k]; ok {
			if g.PurchasedAt.Before(out[i].PurchasedAt) {
				out[i] = g
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, g)
	}
	return out, nil
}
