package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

// GetCart handles GET /api/cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Get(r.Context(), auth.FromContext(r.Context()))
	h.respondCart(w, r, c, err)
}

// AddCartItem handles POST /api/cart.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if err := id.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	var req addItemRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.carts.AddItem(r.Context(), id, req.ProductID, product.Type(req.ProductType))
	h.respondCart(w, r, c, err)
}

// RemoveCartItem handles DELETE /api/cart/{productId}. The optional type
// query parameter narrows removal to one product type.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	var typ product.Type
	if raw := r.URL.Query().Get("type"); raw != "" {
		parsed, err := product.ParseType(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		typ = parsed
	}
	c, err := h.carts.RemoveItem(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "productId"), typ)
	h.respondCart(w, r, c, err)
}

// ClearCart handles DELETE /api/cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Clear(r.Context(), auth.FromContext(r.Context()))
	h.respondCart(w, r, c, err)
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, c *cart.Cart, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}
