package coupon

import (
	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/product"
)

// Scope is the set of product types a coupon may discount (its
// "applicableTo"). The set is closed: a new product type needs an entry here
// before coupons can target it.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeWebsite  Scope = "website"
	ScopeSoftware Scope = "software"
	ScopeDesign   Scope = "design"
	ScopeMedia    Scope = "media"
)

// Every product type is also a scope of its own, e.g. Scope("course").
var scopeTypes = func() map[Scope][]product.Type {
	m := map[Scope][]product.Type{
		ScopeWebsite:  {product.TypeUIKit, product.TypeAppTemplate},
		ScopeSoftware: {product.TypeAppTemplate},
		ScopeDesign:   {product.TypeGraphic, product.TypeUIKit, product.TypePhoto, product.TypeFont},
		ScopeMedia:    {product.TypeVideoTemplate, product.TypeAudio, product.TypePhoto},
	}
	for _, t := range product.Types {
		m[Scope(t)] = []product.Type{t}
	}
	return m
}()

// ParseScope converts s to a Scope. An empty string means ScopeAll.
func ParseScope(s string) (Scope, error) {
	if s == "" {
		return ScopeAll, nil
	}
	sc := Scope(s)
	if !sc.Valid() {
		return "", domain.NewValidationError("applicableTo", "unknown scope %q", s)
	}
	return sc, nil
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	if s == ScopeAll {
		return true
	}
	_, ok := scopeTypes[s]
	return ok
}

// Covers reports whether products of type t fall within the scope.
func (s Scope) Covers(t product.Type) bool {
	if s == ScopeAll {
		return true
	}
	for _, st := range scopeTypes[s] {
		if st == t {
			return true
		}
	}
	return false
}
