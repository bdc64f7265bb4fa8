// Package jwks exposes the publishable key set to external verifiers.
package jwks

import (
	"context"
	"fmt"
	"time"

	"github.com/tmstack/trustplane/internal/keys"
)

// Document is the wire shape of a JWKS response.
type Document struct {
	Keys []keys.JWK `json:"keys"`
}

// KeySource is the slice of the key store the publisher needs.
type KeySource interface {
	PublishableKeys(ctx context.Context) ([]keys.JWK, error)
}

// Publisher serves the current key set with a cache directive. MaxAge is the
// window verifiers may rely on a cached copy; the key store's prune policy
// uses the same value as its cache-grace floor, so a key never disappears
// from storage while a verifier may still legitimately be caching it.
type Publisher struct {
	Source KeySource
	MaxAge time.Duration
}

func NewPublisher(src KeySource, maxAge time.Duration) *Publisher {
	return &Publisher{Source: src, MaxAge: maxAge}
}

// Document builds the JWKS document.
func (p *Publisher) Document(ctx context.Context) (Document, error) {
	ks, err := p.Source.PublishableKeys(ctx)
	if err != nil {
		return Document{}, err
	}
	if ks == nil {
		ks = []keys.JWK{}
	}
	return Document{Keys: ks}, nil
}

// CacheControl returns the header value advertised alongside the document.
func (p *Publisher) CacheControl() string {
	return fmt.Sprintf("public, max-age=%d", int(p.MaxAge.Seconds()))
}
