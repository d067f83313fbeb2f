package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
)

// DownloadAccess handles GET /api/downloads/access/{productId}?type=.
func (h *Handler) DownloadAccess(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	typ := product.Type(r.URL.Query().Get("type"))

	ok, err := h.entitlements.HasAccess(r.Context(), auth.FromContext(r.Context()), productID, typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(productID)
		e.FieldStart("productType")
		e.Str(string(typ))
		e.FieldStart("hasAccess")
		e.Bool(ok)
		e.ObjEnd()
	})
}

// ListDownloads handles GET /api/downloads.
func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	grants, err := h.entitlements.List(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeGrants(e, grants) })
}
