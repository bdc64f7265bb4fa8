package middlewares

import (
	"net"
	"net/http"
	"strconv"

	"github.com/tmstack/trustplane/internal/http/errors"
	"github.com/tmstack/trustplane/internal/observability/logger"
	"github.com/tmstack/trustplane/internal/rate"
)

// WithRateLimit applies a fixed-window limit keyed by route and client
// address. A limiter backend failure lets the request through.
func WithRateLimit(l rate.Limiter, route string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			res, err := l.Allow(r.Context(), route+":"+host)
			if err != nil {
				logger.Named("rate").Warn("rate limiter unavailable", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
				errors.WriteError(w, errors.ErrTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
