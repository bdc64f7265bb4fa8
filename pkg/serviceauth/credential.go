// Package serviceauth validates inbound service-to-service credentials:
// a static shared secret for trusted intra-cluster calls, or a signed
// bearer token checked against the issuing service's published keys.
package serviceauth

import "strings"

// Kind tags the credential scheme parsed from the Authorization header.
// Dispatching on the parsed kind keeps scheme branching in one place.
type Kind int

const (
	KindNone Kind = iota
	// KindSharedSecret is "Service <opaque>": equality against a configured
	// value, no signature, no expiry.
	KindSharedSecret
	// KindSignedBearer is "ServiceBearer <jwt>": signature, audience and
	// issuer are all verified.
	KindSignedBearer
)

// Credential is a parsed Authorization header.
type Credential struct {
	Kind  Kind
	Token string
}

// ParseAuthorization classifies an Authorization header value. Anything that
// is not exactly "<scheme> <token>" with a known scheme comes back KindNone;
// the caller decides whether anonymous is acceptable.
func ParseAuthorization(header string) Credential {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 {
		return Credential{Kind: KindNone}
	}
	switch strings.ToLower(parts[0]) {
	case "service":
		return Credential{Kind: KindSharedSecret, Token: parts[1]}
	case "servicebearer":
		return Credential{Kind: KindSignedBearer, Token: parts[1]}
	default:
		return Credential{Kind: KindNone}
	}
}
