package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const (
	keyBits  = 2048
	algRS256 = "RS256"
)

// NewKID builds a fresh key id: sortable by creation time, with a random
// suffix so two replicas rotating in the same second cannot collide.
func NewKID(now time.Time) string {
	return fmt.Sprintf("svc-rsa-%d-%s", now.Unix(), uuid.NewString()[:8])
}

// Generate produces a new RSA signing key pair for the given kid.
// Pure function of the kid plus entropy; no shared state.
func Generate(kid string, now time.Time) (*SigningKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	pemStr, err := encodePKCS8(priv)
	if err != nil {
		return nil, err
	}
	return &SigningKey{
		KID:        kid,
		PrivatePEM: pemStr,
		PublicJWK:  publicJWK(&priv.PublicKey, kid),
		CreatedAt:  now.UTC(),
	}, nil
}

// Import builds a signing key from operator-supplied PEM material.
// Malformed input fails with ErrBadImport; it must never fall back to
// generating a substitute, so callers can tell "import requested but
// invalid" apart from "no import requested".
func Import(kid, pemStr string, now time.Time) (*SigningKey, error) {
	priv, err := parsePrivatePEM(pemStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImport, err)
	}
	return &SigningKey{
		KID:        kid,
		PrivatePEM: pemStr,
		PublicJWK:  publicJWK(&priv.PublicKey, kid),
		CreatedAt:  now.UTC(),
	}, nil
}

// ParsePrivateKey decodes a stored private PEM back into an *rsa.PrivateKey
// for signing. Storage holds what Generate/Import produced, so failures here
// mean corrupted data, not user error.
func ParsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	return parsePrivatePEM(pemStr)
}

func parsePrivatePEM(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PEM holds a %T, want RSA private key", k)
		}
		return rk, nil
	}
	if rk, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return rk, nil
	}
	return nil, fmt.Errorf("PEM is neither PKCS#8 nor PKCS#1 RSA")
}

func encodePKCS8(priv *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("encode pkcs8: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

func publicJWK(pub *rsa.PublicKey, kid string) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: algRS256,
		KID: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
