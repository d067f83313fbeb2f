package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
)

// Service aggregates a user's selections into a cart.
type Service struct {
	catalog product.Repository
	carts   Repository
	now     func() time.Time
}

// NewService creates a cart Service.
func NewService(catalog product.Repository, carts Repository) *Service {
	return &Service{
		catalog: catalog,
		carts:   carts,
		now:     time.Now,
	}
}

// Get returns the current cart of the identity.
func (s *Service) Get(ctx context.Context, id auth.Identity) (*Cart, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	items, err := s.carts.Items(ctx, id.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}
	return &Cart{UserID: id.UserID, Items: items}, nil
}

// AddItem snapshots the current catalog price of the product and upserts it
// into the cart.
func (s *Service) AddItem(ctx context.Context, id auth.Identity, productID string, typ product.Type) (*Cart, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if _, err := product.ParseType(string(typ)); err != nil {
		return nil, err
	}

	p, err := s.catalog.Get(ctx, productID, typ)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", productID)
	}
	price, err := p.SnapshotPrice()
	if err != nil {
		return nil, err
	}

	item := Item{
		ProductID:   p.ID,
		ProductType: p.Type,
		UnitPrice:   price,
		Title:       p.Title,
		Image:       p.Image,
		AddedAt:     s.now().UTC(),
	}
	if err := s.carts.Upsert(ctx, id.UserID, item); err != nil {
		return nil, errors.Wrap(err, "upsert cart item")
	}

	return s.Get(ctx, id)
}

// RemoveItem drops the product from the cart. An empty typ removes the
// product under every type. Removing an absent product is a no-op.
func (s *Service) RemoveItem(ctx context.Context, id auth.Identity, productID string, typ product.Type) (*Cart, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if typ != "" {
		if _, err := product.ParseType(string(typ)); err != nil {
			return nil, err
		}
	}
	if err := s.carts.Remove(ctx, id.UserID, productID, typ); err != nil {
		return nil, errors.Wrap(err, "remove cart item")
	}
	return s.Get(ctx, id)
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, id auth.Identity) (*Cart, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := s.carts.Clear(ctx, id.UserID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	return &Cart{UserID: id.UserID}, nil
}
