// Package memory implements the storefront repositories in process memory.
//
// A single mutex guards all state, so every repository call, including the
// order-create commit with its coupon redemption, is serialized. Values are
// copied on the way in and out; callers never share memory with the store.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/entitlement"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var (
	_ product.Repository     = (*Products)(nil)
	_ cart.Repository        = (*Carts)(nil)
	_ coupon.Repository      = (*Coupons)(nil)
	_ order.Repository       = (*Orders)(nil)
	_ entitlement.Repository = (*Orders)(nil)
)

type productKey struct {
	id  string
	typ product.Type
}

type usageKey struct {
	code   string
	userID string
}

// Store holds the state behind every in-memory repository.
type Store struct {
	mu       sync.Mutex
	products map[productKey]product.Product
	carts    map[string][]cart.Item
	coupons  map[string]coupon.Coupon
	usage    map[usageKey]int
	orders   map[string]*order.Order
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		products: make(map[productKey]product.Product),
		carts:    make(map[string][]cart.Item),
		coupons:  make(map[string]coupon.Coupon),
		usage:    make(map[usageKey]int),
		orders:   make(map[string]*order.Order),
	}
}

// Products is the catalog view of the store.
type Products struct{ s *Store }

// Carts is the cart view of the store.
type Carts struct{ s *Store }

// Coupons is the coupon view of the store.
type Coupons struct{ s *Store }

// Orders is the order and entitlement view of the store.
type Orders struct{ s *Store }

// Products returns the catalog repository.
func (s *Store) Products() *Products { return &Products{s} }

// Carts returns the cart repository.
func (s *Store) Carts() *Carts { return &Carts{s} }

// Coupons returns the coupon repository.
func (s *Store) Coupons() *Coupons { return &Coupons{s} }

// Orders returns the order repository, which also resolves entitlements.
func (s *Store) Orders() *Orders { return &Orders{s} }

// PutProduct inserts or replaces a catalog product.
func (s *Store) PutProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.SalePrice != nil {
		sale := *p.SalePrice
		p.SalePrice = &sale
	}
	s.products[productKey{p.ID, p.Type}] = p
}

// PutCoupon inserts or replaces a coupon, keyed by its normalized code.
func (s *Store) PutCoupon(c coupon.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Code = coupon.NormalizeCode(c.Code)
	s.coupons[c.Code] = c
}

// Get implements product.Repository.
func (r *Products) Get(_ context.Context, id string, typ product.Type) (*product.Product, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productKey{id, typ}]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "product", ID: id}
	}
	return &p, nil
}

// Items implements cart.Repository.
func (r *Carts) Items(_ context.Context, userID string) ([]cart.Item, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.carts[userID]), nil
}

// Upsert implements cart.Repository.
func (r *Carts) Upsert(_ context.Context, userID string, item cart.Item) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.carts[userID]
	for i := range items {
		if items[i].Key() == item.Key() {
			item.AddedAt = items[i].AddedAt
			items[i] = item
			return nil
		}
	}
	items = append(items, item)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].AddedAt.Before(items[j].AddedAt)
	})
	s.carts[userID] = items
	return nil
}

// Remove implements cart.Repository.
func (r *Carts) Remove(_ context.Context, userID, productID string, typ product.Type) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[userID] = slices.DeleteFunc(s.carts[userID], func(it cart.Item) bool {
		return it.ProductID == productID && (typ == "" || it.ProductType == typ)
	})
	return nil
}

// Clear implements cart.Repository.
func (r *Carts) Clear(_ context.Context, userID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[userID] = nil
	return nil
}

// FindByCode implements coupon.Repository.
func (r *Coupons) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[coupon.NormalizeCode(code)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &c, nil
}

// UserUsage implements coupon.Repository.
func (r *Coupons) UserUsage(_ context.Context, code, userID string) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[usageKey{coupon.NormalizeCode(code), userID}], nil
}

// Create implements order.Repository. The whole commit happens under the
// store mutex, which is the serializing guard for coupon redemptions.
func (r *Orders) Create(_ context.Context, o *order.Order, red *coupon.Redemption) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return domain.NewValidationError("id", "order %s already exists", o.ID)
	}

	inCart := make(map[cart.Key]cart.Item, len(s.carts[o.UserID]))
	for _, it := range s.carts[o.UserID] {
		inCart[it.Key()] = it
	}
	frozen := make(map[cart.Key]struct{}, len(o.Items))
	for _, it := range o.Items {
		k := cart.Key{ProductID: it.ProductID, ProductType: it.ProductType}
		cur, ok := inCart[k]
		if !ok || !cur.UnitPrice.Equal(it.Price) {
			return errors.Wrapf(order.ErrCartChanged, "item %s/%s", it.ProductID, it.ProductType)
		}
		frozen[k] = struct{}{}
	}

	if red != nil {
		code := coupon.NormalizeCode(red.Code)
		c, ok := s.coupons[code]
		if !ok {
			return coupon.ErrNotFound
		}
		uk := usageKey{code, red.UserID}
		if err := c.CheckCaps(s.usage[uk]); err != nil {
			return err
		}
		c.UsedCount++
		s.coupons[code] = c
		s.usage[uk]++
	}

	s.orders[o.ID] = cloneOrder(o)
	s.carts[o.UserID] = slices.DeleteFunc(s.carts[o.UserID], func(it cart.Item) bool {
		_, ok := frozen[it.Key()]
		return ok
	})
	return nil
}

// Transition implements order.Repository.
func (r *Orders) Transition(_ context.Context, id string, fn order.TransitionFunc) (*order.Order, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "order", ID: id}
	}
	o := cloneOrder(stored)
	change, err := fn(o)
	if err != nil {
		return nil, err
	}
	if change != nil {
		o.Status = change.To
		o.UpdatedAt = change.At
		o.History = append(o.History, *change)
		s.orders[id] = cloneOrder(o)
	}
	return o, nil
}

// Get implements order.Repository.
func (r *Orders) Get(_ context.Context, id string) (*order.Order, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "order", ID: id}
	}
	return cloneOrder(o), nil
}

// ListByUser implements order.Repository.
func (r *Orders) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []order.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// HasCompletedItem implements entitlement.Repository.
func (r *Orders) HasCompletedItem(_ context.Context, userID, productID string, typ product.Type) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.UserID == userID && o.Status == order.StatusCompleted && o.Contains(productID, typ) {
			return true, nil
		}
	}
	return false, nil
}

// ListCompletedItems implements entitlement.Repository.
func (r *Orders) ListCompletedItems(_ context.Context, userID string) ([]entitlement.Grant, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entitlement.Grant
	for _, o := range s.orders {
		if o.UserID != userID || o.Status != order.StatusCompleted {
			continue
		}
		for _, it := range o.Items {
			out = append(out, entitlement.Grant{
				ProductID:   it.ProductID,
				ProductType: it.ProductType,
				Title:       it.Title,
				OrderID:     o.ID,
				PurchasedAt: o.CreatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PurchasedAt.Before(out[j].PurchasedAt)
	})
	return out, nil
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	c.History = slices.Clone(o.History)
	return &c
}
