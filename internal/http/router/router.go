// Package router assembles the trustd HTTP surface.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tmstack/trustplane/internal/http/handlers"
	"github.com/tmstack/trustplane/internal/http/middlewares"
	"github.com/tmstack/trustplane/internal/jwks"
	"github.com/tmstack/trustplane/internal/rate"
	"github.com/tmstack/trustplane/internal/token"
	"github.com/tmstack/trustplane/pkg/serviceauth"
)

// Deps carries everything the router wires together.
type Deps struct {
	Publisher *jwks.Publisher
	Issuer    *token.Issuer
	Store     handlers.Rotator

	// Operator is the verifier gating the token and rotate endpoints.
	Operator *serviceauth.Verifier

	// Limiter is optional; nil disables rate limiting.
	Limiter rate.Limiter

	DefaultAudience string
	DefaultSubject  string
}

// New builds the chi router with the full middleware chain.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return middlewares.Chain(next, middlewares.WithRequestID(), middlewares.WithLogging())
	})

	r.Get("/healthz", handlers.Healthz().ServeHTTP)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/service", func(r chi.Router) {
		r.Get("/jwks", handlers.JWKS(d.Publisher).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return middlewares.Chain(next,
					middlewares.WithRateLimit(d.Limiter, "svc"),
					middlewares.RequireService(d.Operator),
				)
			})
			r.Post("/token", handlers.IssueToken(d.Issuer, d.DefaultAudience, d.DefaultSubject).ServeHTTP)
			r.Post("/rotate", handlers.Rotate(d.Store).ServeHTTP)
		})
	})

	return r
}
