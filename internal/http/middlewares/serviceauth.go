package middlewares

import (
	"net/http"

	"github.com/tmstack/trustplane/internal/http/errors"
	"github.com/tmstack/trustplane/pkg/serviceauth"
)

// RequireService gates an endpoint behind the inter-service verifier. The
// response body is the same generic unauthorized for every failure mode,
// including a verifier with no secret configured.
func RequireService(v *serviceauth.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := serviceauth.ParseAuthorization(r.Header.Get("Authorization"))
			principal, err := v.Verify(r.Context(), cred)
			if err != nil {
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(setPrincipal(r.Context(), principal.Service)))
		})
	}
}
