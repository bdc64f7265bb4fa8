// Package keys owns the service signing key lifecycle: generation, lazy
// initialization, rotation with a grace window, publication and pruning.
package keys

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrBadImport marks operator-supplied key material that could not be
	// parsed. It is never silently replaced with generated material.
	ErrBadImport = errors.New("invalid imported key material")
)

// JWK is the public half of a signing key in JWKS form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	KID string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// SigningKey is the durable record of one asymmetric signing key.
// ExpiresAt == nil marks the current key; rotation stamps it and inserts a
// successor. The private PEM never leaves this process except into storage.
type SigningKey struct {
	KID        string
	PrivatePEM string
	PublicJWK  JWK
	CreatedAt  time.Time
	ExpiresAt  *time.Time
}

// Published reports whether the key belongs in the JWKS output at t.
func (k *SigningKey) Published(t time.Time) bool {
	return k.ExpiresAt == nil || k.ExpiresAt.After(t)
}
