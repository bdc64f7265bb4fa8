package serviceauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tmstack/trustplane/internal/metrics"
	"github.com/tmstack/trustplane/internal/observability/logger"
)

// DefaultTTL matches the max-age the JWKS endpoint advertises.
const DefaultTTL = 300 * time.Second

// minRefreshInterval bounds how often an unknown kid may force a refetch,
// so guessed kids cannot turn the verifier into a refresh storm.
const minRefreshInterval = 10 * time.Second

var errKIDNotFound = errors.New("kid not found in key set")

type jwkDoc struct {
	Keys []struct {
		Kty string `json:"kty"`
		Use string `json:"use"`
		Alg string `json:"alg"`
		KID string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// KeySetCache holds a local snapshot of a remote JWKS, refreshed when older
// than TTL or when a presented kid is missing (rate-limited). The snapshot
// is swapped whole under the lock; readers never see a partial set.
type KeySetCache struct {
	URL    string
	TTL    time.Duration
	Client *http.Client

	mu          sync.RWMutex
	byKID       map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time

	sf singleflight.Group
}

func NewKeySetCache(url string, ttl time.Duration, client *http.Client) *KeySetCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &KeySetCache{URL: url, TTL: ttl, Client: client}
}

// Key resolves a kid to its public key, refreshing the snapshot when stale
// or when the kid is unknown. A kid that is still unknown after a fresh
// fetch is a hard failure.
func (c *KeySetCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	pk, ok := c.byKID[kid]
	fresh := time.Since(c.fetchedAt) < c.TTL
	c.mu.RUnlock()

	if ok && fresh {
		return pk, nil
	}
	if ok {
		// Known kid on a stale snapshot: serve it, refresh opportunistically.
		go func() { _ = c.refresh(context.Background(), false) }()
		return pk, nil
	}

	// Unknown kid: rotation may have outpaced the TTL. Force a refresh,
	// rate-limited against malicious kid guessing.
	if err := c.refresh(ctx, true); err != nil {
		return nil, err
	}

	c.mu.RLock()
	pk, ok = c.byKID[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, errKIDNotFound
	}
	return pk, nil
}

// refresh fetches and atomically swaps the snapshot. Concurrent callers
// collapse into a single fetch.
func (c *KeySetCache) refresh(ctx context.Context, forced bool) error {
	_, err, _ := c.sf.Do("jwks", func() (any, error) {
		c.mu.RLock()
		attempted := c.lastAttempt
		c.mu.RUnlock()
		if forced && time.Since(attempted) < minRefreshInterval {
			return nil, errKIDNotFound
		}

		c.mu.Lock()
		c.lastAttempt = time.Now()
		c.mu.Unlock()

		byKID, err := c.fetch(ctx)
		if err != nil {
			logger.Named("serviceauth").Warn("jwks refresh failed", logger.Err(err))
			return nil, err
		}
		metrics.JWKSCacheRefreshes.Inc()

		c.mu.Lock()
		c.byKID = byKID
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

func (c *KeySetCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var doc jwkDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	byKID := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.KID == "" {
			continue
		}
		pub, err := parseRSAJWK(k.N, k.E)
		if err != nil {
			// One bad key must not poison the rest of the set.
			logger.Named("serviceauth").Warn("skipping malformed jwk", logger.KID(k.KID), logger.Err(err))
			continue
		}
		byKID[k.KID] = pub
	}
	return byKID, nil
}

func parseRSAJWK(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}
