// Package token mints short-lived service-to-service assertions signed with
// the current key from the key store.
package token

import (
	"context"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/tmstack/trustplane/internal/keys"
	"github.com/tmstack/trustplane/internal/metrics"
)

// TTL is fixed: tokens are minted fresh per outbound call and expiry is
// the only revocation mechanism.
const TTL = 300 * time.Second

// SigningKeySource yields the key used for new signatures.
type SigningKeySource interface {
	CurrentSigningKey(ctx context.Context) (*keys.SigningKey, error)
}

// Issuer mints RS256 service tokens with the issuer identity fixed at
// construction. Key generation failure is fatal to the call; there is no
// unsigned fallback.
type Issuer struct {
	Iss  string
	Keys SigningKeySource
}

func NewIssuer(iss string, src SigningKeySource) *Issuer {
	return &Issuer{Iss: iss, Keys: src}
}

// Issue signs {iss, sub, aud, iat, exp} with the current key, carrying the
// kid in the header so verifiers can pick the right public key.
func (i *Issuer) Issue(ctx context.Context, aud, sub string) (string, error) {
	rec, err := i.Keys.CurrentSigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("current signing key: %w", err)
	}
	priv, err := keys.ParsePrivateKey(rec.PrivatePEM)
	if err != nil {
		return "", fmt.Errorf("decode signing key %s: %w", rec.KID, err)
	}

	now := time.Now().UTC()
	claims := jwtv5.MapClaims{
		"iss": i.Iss,
		"sub": sub,
		"aud": aud,
		"iat": now.Unix(),
		"exp": now.Add(TTL).Unix(),
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	tk.Header["kid"] = rec.KID
	tk.Header["typ"] = "JWT"

	signed, err := tk.SignedString(priv)
	if err != nil {
		return "", err
	}
	metrics.TokensIssued.Inc()
	return signed, nil
}

// ServiceToken adapts Issue to the membership.TokenSource shape so services
// co-located with the key store can sign locally instead of calling the
// issuance endpoint.
func (i *Issuer) ServiceToken(ctx context.Context, aud, sub string) (string, error) {
	return i.Issue(ctx, aud, sub)
}
