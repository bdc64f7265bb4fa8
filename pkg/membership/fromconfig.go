package membership

import (
	"net/http"

	"github.com/tmstack/trustplane/internal/config"
)

// NewResolverFromConfig builds a Resolver against the configured organization
// service. When an auth base URL is known the preferred credential is a
// remotely issued token; the JWT and shared secrets stay as fallbacks.
func NewResolverFromConfig(cfg *config.Config) *Resolver {
	r := NewResolver(cfg.Orgs.BaseURL, &http.Client{Timeout: cfg.Orgs.Timeout.Std()})
	r.JWTSecret = cfg.Service.JWTSecret
	r.SharedSecret = cfg.Service.SharedSecret
	if cfg.Service.Issuer != "" {
		r.Issuer = cfg.Service.Issuer
	}
	if cfg.Service.DefaultAudience != "" {
		r.Audience = cfg.Service.DefaultAudience
	}
	if cfg.Service.DefaultSubject != "" {
		r.Subject = cfg.Service.DefaultSubject
	}
	if ttl := cfg.Membership.CacheTTL.Std(); ttl > 0 {
		r = r.WithCacheTTL(ttl)
	}
	if cfg.Auth.BaseURL != "" {
		client := &http.Client{Timeout: cfg.Auth.Timeout.Std()}
		r.Tokens = NewRemoteTokenSource(cfg.Auth.BaseURL, cfg.Service.SharedSecret, client)
	}
	return r
}
