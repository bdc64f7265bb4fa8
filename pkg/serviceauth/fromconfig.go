package serviceauth

import (
	"net/http"

	"github.com/tmstack/trustplane/internal/config"
)

// NewVerifierFromConfig builds a Verifier for the schemes the configuration
// enables: the shared secret, RS256 against the configured JWKS URL, or the
// HS256 fallback when only a JWT secret is known.
func NewVerifierFromConfig(cfg *config.Config) *Verifier {
	v := &Verifier{
		SharedSecret: cfg.Service.SharedSecret,
		JWTSecret:    cfg.Service.JWTSecret,
		Audience:     cfg.Service.DefaultAudience,
		Issuer:       cfg.Service.Issuer,
	}
	if cfg.Service.JWKSURL != "" {
		client := &http.Client{Timeout: cfg.Service.Timeout.Std()}
		v.JWKS = NewKeySetCache(cfg.Service.JWKSURL, cfg.JWKSMaxAge(), client)
	}
	return v
}
