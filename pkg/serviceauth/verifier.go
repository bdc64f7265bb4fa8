package serviceauth

import (
	"context"
	"crypto/subtle"
	"errors"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/tmstack/trustplane/internal/metrics"
	"github.com/tmstack/trustplane/internal/observability/logger"
)

// ErrUnauthenticated is the only error Verify returns. Which check failed
// (secret mismatch, bad signature, unknown kid, wrong audience) stays in the
// logs; the caller sees one generic denial.
var ErrUnauthenticated = errors.New("invalid service credential")

// Principal is the generic service identity produced by a successful
// verification. It is never a resolved end user.
type Principal struct {
	// Service is the calling service's claimed identity: the token's sub
	// for signed credentials, "service" for the shared-secret scheme.
	Service string
	// Claims carries the verified claims of a signed token, nil for the
	// shared-secret scheme.
	Claims map[string]any
}

// Verifier validates inbound service credentials. The zero value rejects
// everything; populate the fields for the schemes you accept.
type Verifier struct {
	// SharedSecret enables the "Service <opaque>" scheme.
	SharedSecret string
	// JWKS enables the "ServiceBearer <jwt>" scheme with RS256 keys fetched
	// from the issuing service.
	JWKS *KeySetCache
	// JWTSecret enables HS256 verification when no JWKS URL is known.
	// Ignored when JWKS is set.
	JWTSecret string
	// Audience/Issuer are matched against signed tokens when non-empty.
	Audience string
	Issuer   string
}

// Verify checks a parsed credential. Every failure path is fail-closed and
// collapses to ErrUnauthenticated.
func (v *Verifier) Verify(ctx context.Context, cred Credential) (*Principal, error) {
	switch cred.Kind {
	case KindSharedSecret:
		return v.verifySharedSecret(cred.Token)
	case KindSignedBearer:
		return v.verifySigned(ctx, cred.Token)
	default:
		metrics.TokenVerifyFailures.WithLabelValues("none").Inc()
		return nil, ErrUnauthenticated
	}
}

func (v *Verifier) verifySharedSecret(token string) (*Principal, error) {
	// A missing secret is a configuration error on this side; it must read
	// as a denial, not as an open door.
	if v.SharedSecret == "" {
		logger.Named("serviceauth").Warn("shared-secret credential presented but no secret configured")
		metrics.TokenVerifyFailures.WithLabelValues("service").Inc()
		return nil, ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.SharedSecret)) != 1 {
		metrics.TokenVerifyFailures.WithLabelValues("service").Inc()
		return nil, ErrUnauthenticated
	}
	return &Principal{Service: "service"}, nil
}

func (v *Verifier) verifySigned(ctx context.Context, raw string) (*Principal, error) {
	var (
		keyfunc jwtv5.Keyfunc
		methods []string
	)
	switch {
	case v.JWKS != nil:
		methods = []string{"RS256"}
		keyfunc = func(t *jwtv5.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errKIDNotFound
			}
			return v.JWKS.Key(ctx, kid)
		}
	case v.JWTSecret != "":
		methods = []string{"HS256"}
		keyfunc = func(t *jwtv5.Token) (any, error) {
			return []byte(v.JWTSecret), nil
		}
	default:
		logger.Named("serviceauth").Warn("signed credential presented but no jwks url or jwt secret configured")
		metrics.TokenVerifyFailures.WithLabelValues("servicebearer").Inc()
		return nil, ErrUnauthenticated
	}

	opts := []jwtv5.ParserOption{jwtv5.WithValidMethods(methods), jwtv5.WithExpirationRequired()}
	if v.Audience != "" {
		opts = append(opts, jwtv5.WithAudience(v.Audience))
	}
	if v.Issuer != "" {
		opts = append(opts, jwtv5.WithIssuer(v.Issuer))
	}

	tok, err := jwtv5.Parse(raw, keyfunc, opts...)
	if err != nil || !tok.Valid {
		logger.Named("serviceauth").Debug("service jwt rejected", logger.Err(err))
		metrics.TokenVerifyFailures.WithLabelValues("servicebearer").Inc()
		return nil, ErrUnauthenticated
	}

	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		metrics.TokenVerifyFailures.WithLabelValues("servicebearer").Inc()
		return nil, ErrUnauthenticated
	}

	svc := "service"
	if sub, _ := claims["sub"].(string); sub != "" {
		svc = sub
	}
	out := make(map[string]any, len(claims))
	for k, val := range claims {
		out[k] = val
	}
	return &Principal{Service: svc, Claims: out}, nil
}
