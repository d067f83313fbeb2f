package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/auth"
)

var secret = []byte("test-secret")

func TestIssueVerify(t *testing.T) {
	iss := NewIssuer(secret, "storefront", time.Hour)
	v := NewVerifier(secret, "storefront", 0)

	raw, err := iss.Issue(auth.Identity{UserID: "u1", Scopes: []string{auth.ScopeOrdersWrite, "extra"}})
	require.NoError(t, err)

	id, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.True(t, id.HasScope(auth.ScopeOrdersWrite))
	assert.True(t, id.HasScope("extra"))
}

func TestVerify_Rejects(t *testing.T) {
	v := NewVerifier(secret, "storefront", 0)

	expired := NewIssuer(secret, "storefront", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	foreign := NewIssuer(secret, "someone-else", time.Hour)
	wrongKey := NewIssuer([]byte("other"), "storefront", time.Hour)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "storefront",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "storefront"},
	}).SignedString(secret)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "storefront",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(secret)
	require.NoError(t, err)

	mint := func(i *Issuer) string {
		raw, err := i.Issue(auth.Identity{UserID: "u1"})
		require.NoError(t, err)
		return raw
	}

	tests := map[string]string{
		"garbage":    "not-a-token",
		"expired":    mint(expired),
		"issuer":     mint(foreign),
		"signature":  mint(wrongKey),
		"alg none":   none,
		"no expiry":  noExpiry,
		"no subject": noSubject,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(raw)
			require.ErrorIs(t, err, auth.ErrUnauthorized)
		})
	}
}

func TestVerify_Leeway(t *testing.T) {
	iss := NewIssuer(secret, "", time.Minute)
	iss.now = func() time.Time { return time.Now().Add(-90 * time.Second) }
	raw, err := iss.Issue(auth.Identity{UserID: "u1"})
	require.NoError(t, err)

	_, err = NewVerifier(secret, "", 0).Verify(raw)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	id, err := NewVerifier(secret, "", time.Minute).Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}

func TestIssue_Anonymous(t *testing.T) {
	_, err := NewIssuer(secret, "", time.Hour).Issue(auth.Identity{})
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}
