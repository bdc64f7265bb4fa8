package handlers

import (
	"net/http"

	httpx "github.com/tmstack/trustplane/internal/http"
)

// Healthz is a liveness probe.
func Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
