// Package token issues and verifies the HS256 bearer tokens that carry a
// caller's identity.
package token

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/storefront/internal/domain/auth"
)

// Claims is the JWT payload. Scope holds space-separated scopes as in
// RFC 8693.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Verifier validates bearer tokens and turns them into identities.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier. An empty issuer disables the issuer check.
func NewVerifier(secret []byte, issuer string, leeway time.Duration) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Verifier{secret: secret, parser: jwt.NewParser(opts...)}
}

// Verify parses raw and returns the identity it carries. Any failure is
// reported as auth.ErrUnauthorized.
func (v *Verifier) Verify(raw string) (auth.Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return auth.Identity{}, errors.Wrapf(auth.ErrUnauthorized, "verify token: %v", err)
	}
	if claims.Subject == "" {
		return auth.Identity{}, errors.Wrap(auth.ErrUnauthorized, "token has no subject")
	}
	return auth.Identity{
		UserID: claims.Subject,
		Scopes: strings.Fields(claims.Scope),
	}, nil
}

// Issuer mints bearer tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer whose tokens expire after ttl.
func NewIssuer(secret []byte, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for id.
func (i *Issuer) Issue(id auth.Identity) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Scope: strings.Join(id.Scopes, " "),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
