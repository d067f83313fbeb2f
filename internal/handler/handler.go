// Package handler exposes the commerce services over REST.
package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/entitlement"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Authenticator turns a raw bearer token into an identity.
type Authenticator interface {
	Verify(raw string) (auth.Identity, error)
}

// Handler serves the /api routes, delegating to the domain services.
type Handler struct {
	carts        *cart.Service
	coupons      coupon.Validator
	orders       *order.Service
	entitlements *entitlement.Resolver
	validate     *validator.Validate
}

// New constructs a Handler with the required domain dependencies.
func New(
	carts *cart.Service,
	coupons coupon.Validator,
	orders *order.Service,
	entitlements *entitlement.Resolver,
) *Handler {
	return &Handler{
		carts:        carts,
		coupons:      coupons,
		orders:       orders,
		entitlements: entitlements,
		validate:     newValidator(),
	}
}

// Router returns the /api routes. Authentication runs first, so mw (rate
// limiting in production) can key on the caller via UserKey.
func (h *Handler) Router(authn Authenticator, mw ...httpmiddleware.Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(Authenticate(authn))
	for _, m := range mw {
		r.Use(m)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusNotFound, "route not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/", h.AddCartItem)
			r.Delete("/", h.ClearCart)
			r.Delete("/{productId}", h.RemoveCartItem)
		})
		r.Post("/coupons/validate", h.ValidateCoupon)
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Patch("/{id}/status", h.UpdateOrderStatus)
		})
		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", h.ListDownloads)
			r.Get("/access/{productId}", h.DownloadAccess)
		})
	})
	return r
}

// Authenticate resolves the bearer token into an auth.Identity stored in
// the request context. Requests without a token proceed anonymously and are
// rejected by the services; a malformed or invalid token is rejected here.
func Authenticate(authn Authenticator) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			scheme, raw, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" {
				writeEnvelope(w, http.StatusUnauthorized, "malformed authorization header", "")
				return
			}
			id, err := authn.Verify(strings.TrimSpace(raw))
			if err != nil {
				zctx.From(r.Context()).Debug("Bearer rejected", zap.Error(err))
				writeEnvelope(w, http.StatusUnauthorized, "invalid bearer token", "")
				return
			}

			ctx := auth.WithIdentity(r.Context(), id)
			ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.String("user_id", id.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserKey is a rate limit key func: the user id for authenticated
// requests, the client address otherwise.
func UserKey(r *http.Request) string {
	if id := auth.FromContext(r.Context()); id.UserID != "" {
		return "user:" + id.UserID
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}
