package product

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = &domain.NotFoundError{Entity: "product"}

// Type is the discriminant of the digital product kinds sold in the store.
// Products are plain data tagged with a Type, so entitlement checks stay an
// equality match on (ID, Type).
type Type string

const (
	TypeGraphic       Type = "graphic"
	TypeVideoTemplate Type = "videoTemplate"
	TypeUIKit         Type = "uiKit"
	TypeAppTemplate   Type = "appTemplate"
	TypeAudio         Type = "audio"
	TypePhoto         Type = "photo"
	TypeFont          Type = "font"
	TypeCourse        Type = "course"
)

// Types lists every known product type.
var Types = []Type{
	TypeGraphic,
	TypeVideoTemplate,
	TypeUIKit,
	TypeAppTemplate,
	TypeAudio,
	TypePhoto,
	TypeFont,
	TypeCourse,
}

// Valid reports whether t is a known product type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType converts s to a Type, rejecting unknown values.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", domain.NewValidationError("productType", "unknown product type %q", s)
	}
	return t, nil
}

// Product is a catalog entry as the catalog currently lists it.
type Product struct {
	ID        string
	Type      Type
	Title     string
	Image     string
	Price     decimal.Decimal
	SalePrice *decimal.Decimal
}

// SnapshotPrice returns the price a buyer is charged right now: the sale
// price when one is set, otherwise the list price. The result is copied into
// carts and orders and never recomputed from the catalog afterwards.
func (p *Product) SnapshotPrice() (decimal.Decimal, error) {
	price := p.Price
	if p.SalePrice != nil {
		price = *p.SalePrice
	}
	if price.IsNegative() {
		return decimal.Zero, domain.NewValidationError("price", "product %s has negative price %s", p.ID, price)
	}
	return price, nil
}

// Repository defines read operations for the product catalog.
type Repository interface {
	Get(ctx context.Context, id string, typ Type) (*Product, error)
}
