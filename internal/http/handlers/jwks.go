// Package handlers holds the trustd endpoint implementations.
package handlers

import (
	"net/http"

	httpx "github.com/tmstack/trustplane/internal/http"
	"github.com/tmstack/trustplane/internal/http/errors"
	"github.com/tmstack/trustplane/internal/jwks"
	"github.com/tmstack/trustplane/internal/observability/logger"
)

// JWKS serves the publishable key set. Public and unauthenticated; the
// Cache-Control max-age tells verifiers how long they may trust a copy.
func JWKS(pub *jwks.Publisher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc, err := pub.Document(r.Context())
		if err != nil {
			logger.From(r.Context()).Error("jwks document build failed", logger.Err(err))
			errors.WriteError(w, errors.ErrServiceUnavailable)
			return
		}
		w.Header().Set("Cache-Control", pub.CacheControl())
		httpx.WriteJSON(w, http.StatusOK, doc)
	})
}
