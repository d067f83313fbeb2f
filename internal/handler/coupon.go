package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/auth"
)

// ValidateCoupon handles POST /api/coupons/validate. The code is checked
// against the caller's current cart; no usage is consumed.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if err := id.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	var req validateCouponRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.coupons.Validate(r.Context(), req.Code, c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDiscount(e, c, d) })
}
