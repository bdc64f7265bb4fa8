package handlers

import (
	"context"
	"net/http"

	httpx "github.com/tmstack/trustplane/internal/http"
	"github.com/tmstack/trustplane/internal/http/errors"
	"github.com/tmstack/trustplane/internal/observability/logger"
)

// Rotator is the slice of the key store the rotate endpoint needs.
type Rotator interface {
	Rotate(ctx context.Context) (string, error)
}

type rotateResponse struct {
	KID string `json:"kid"`
}

// Rotate triggers a key rotation and returns the newly current kid. Shared
// secret enforced in middleware; the scheduled job drives the same path.
func Rotate(store Rotator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kid, err := store.Rotate(r.Context())
		if err != nil {
			logger.From(r.Context()).Error("rotation failed", logger.Err(err))
			errors.WriteError(w, errors.ErrServiceUnavailable)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, rotateResponse{KID: kid})
	})
}
