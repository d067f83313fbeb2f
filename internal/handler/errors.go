package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
)

// writeError maps a domain error to its status code and writes the error
// envelope. Unclassified errors are logged and answered with a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr *domain.ValidationError
		nErr *domain.NotFoundError
		cErr *coupon.Error
		tErr *order.InvalidTransitionError
	)
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeEnvelope(w, http.StatusUnauthorized, "authentication required", "")
	case errors.Is(err, auth.ErrForbidden):
		writeEnvelope(w, http.StatusForbidden, "insufficient scope", "")
	case errors.As(err, &cErr):
		writeEnvelope(w, http.StatusUnprocessableEntity, cErr.Error(), string(cErr.Reason))
	case errors.As(err, &vErr):
		writeEnvelope(w, http.StatusBadRequest, vErr.Error(), "")
	case errors.As(err, &tErr):
		writeEnvelope(w, http.StatusConflict, tErr.Error(), "")
	case errors.Is(err, order.ErrCartChanged):
		writeEnvelope(w, http.StatusConflict, order.ErrCartChanged.Error(), "")
	case errors.As(err, &nErr):
		writeEnvelope(w, http.StatusNotFound, nErr.Error(), "")
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeEnvelope(w, http.StatusInternalServerError, "internal error", "")
	}
}

func writeEnvelope(w http.ResponseWriter, code int, message, reason string) {
	writeJSON(w, code, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(code)
		e.FieldStart("message")
		e.Str(message)
		if reason != "" {
			e.FieldStart("reason")
			e.Str(reason)
		}
		e.ObjEnd()
	})
}

func writeJSON(w http.ResponseWriter, code int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
