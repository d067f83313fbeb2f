package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to bearer identities.
const (
	// ScopeOrdersWrite allows advancing an order's payment status. It is held
	// by payment webhooks and operators, never by shoppers.
	ScopeOrdersWrite = "orders:write"
)

var (
	// ErrUnauthorized is returned when an operation runs without an
	// authenticated identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the identity lacks a required scope.
	ErrForbidden = errors.New("forbidden")
)

// Identity is the authenticated caller of a commerce operation. It is
// always derived from the bearer token, never from a request body.
type Identity struct {
	UserID string
	Scopes []string
}

// Validate returns ErrUnauthorized when the identity carries no user.
func (i Identity) Validate() error {
	if i.UserID == "" {
		return ErrUnauthorized
	}
	return nil
}

// HasScope reports whether the identity was granted scope.
func (i Identity) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Require validates the identity and checks that it holds scope.
func (i Identity) Require(scope string) error {
	if err := i.Validate(); err != nil {
		return err
	}
	if !i.HasScope(scope) {
		return errors.Wrapf(ErrForbidden, "scope %q required", scope)
	}
	return nil
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity. The zero
// Identity is returned for anonymous requests.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
