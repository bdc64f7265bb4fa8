package keys

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tmstack/trustplane/internal/metrics"
	"github.com/tmstack/trustplane/internal/observability/logger"
)

// StoreConfig carries the rotation and retention policy.
type StoreConfig struct {
	// Grace is how long a rotated-out key keeps validating tokens.
	Grace time.Duration
	// MinRetained is the floor pruning must leave behind, newest first.
	MinRetained int
	// Retention: an expired key survives at least this long past expiry.
	Retention time.Duration
	// CacheGrace mirrors the JWKS Cache-Control max-age. Pruning never
	// evicts a key faster than verifiers were told they may cache it.
	CacheGrace time.Duration

	// ImportPEM/ImportKID seed the very first key from operator material
	// instead of generating one. Empty means generate.
	ImportPEM string
	ImportKID string
}

// Store is the single source of truth for signing keys. All lifecycle
// transitions run under one process-wide mutex; cross-replica atomicity is
// the Repository's job.
type Store struct {
	repo Repository
	cfg  StoreConfig

	mu  sync.Mutex
	now func() time.Time
}

func NewStore(repo Repository, cfg StoreConfig) *Store {
	if cfg.MinRetained < 1 {
		cfg.MinRetained = 1
	}
	return &Store{repo: repo, cfg: cfg, now: time.Now}
}

// EnsureInitialized creates the first key when none exists. An operator
// supplied PEM wins over generated material; a malformed import is an error,
// never silently replaced. Safe to call repeatedly.
func (s *Store) EnsureInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureInitLocked(ctx)
}

func (s *Store) ensureInitLocked(ctx context.Context) error {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	now := s.now().UTC()
	var key *SigningKey
	if s.cfg.ImportPEM != "" {
		kid := s.cfg.ImportKID
		if kid == "" {
			kid = NewKID(now)
		}
		key, err = Import(kid, s.cfg.ImportPEM, now)
	} else {
		kid := s.cfg.ImportKID
		if kid == "" {
			kid = NewKID(now)
		}
		key, err = Generate(kid, now)
	}
	if err != nil {
		return err
	}

	if err := s.repo.Insert(ctx, key); err != nil {
		// Another replica won the init race; its key is as good as ours.
		if errors.Is(err, ErrConflict) {
			return nil
		}
		return err
	}
	logger.Named("keys").Info("signing key initialized", logger.KID(key.KID))
	return nil
}

// Rotate makes a fresh key current and stamps the previous current key with
// now+grace so verifiers on stale JWKS caches keep validating in-flight
// tokens. Concurrent callers serialize; each completed call is one rotation.
func (s *Store) Rotate(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureInitLocked(ctx); err != nil {
		return "", err
	}

	now := s.now().UTC()
	newKey, err := Generate(NewKID(now), now)
	if err != nil {
		return "", err
	}

	prevKID, err := s.repo.Rotate(ctx, newKey, now.Add(s.cfg.Grace))
	if err != nil {
		return "", err
	}

	metrics.KeyRotations.Inc()
	logger.Named("keys").Info("signing key rotated",
		logger.KID(newKey.KID),
		logger.RetiredKID(prevKID),
	)

	if _, err := s.pruneLocked(ctx); err != nil {
		// Rotation itself succeeded; a failed prune retries on the next pass.
		logger.Named("keys").Warn("prune after rotate failed", logger.Err(err))
	}
	return newKey.KID, nil
}

// CurrentSigningKey returns the most recently created key, initializing and
// pruning opportunistically.
func (s *Store) CurrentSigningKey(ctx context.Context) (*SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureInitLocked(ctx); err != nil {
		return nil, err
	}
	if _, err := s.pruneLocked(ctx); err != nil {
		return nil, err
	}
	return s.repo.Newest(ctx)
}

// PublishableKeys returns the JWKS view: every non-expired key newest first.
// If all keys have expired the newest is force-published anyway, trading
// strictness for verification continuity during outages.
func (s *Store) PublishableKeys(ctx context.Context) ([]JWK, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureInitLocked(ctx); err != nil {
		return nil, err
	}
	if _, err := s.pruneLocked(ctx); err != nil {
		return nil, err
	}

	all, err := s.repo.ListNewestFirst(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	out := make([]JWK, 0, len(all))
	for i := range all {
		if all[i].Published(now) {
			out = append(out, all[i].PublicJWK)
		}
	}
	if len(out) == 0 && len(all) > 0 {
		out = append(out, all[0].PublicJWK)
	}
	return out, nil
}

// Prune enforces the retention policy: the MinRetained newest keys always
// survive, and an expired key is only removed once its expiry is older than
// both the cache-grace and the retention windows.
func (s *Store) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(ctx)
}

func (s *Store) pruneLocked(ctx context.Context) (int, error) {
	all, err := s.repo.ListNewestFirst(ctx)
	if err != nil {
		return 0, err
	}
	if len(all) <= s.cfg.MinRetained {
		return 0, nil
	}

	now := s.now().UTC()
	cutoff := now.Add(-maxDur(s.cfg.CacheGrace, s.cfg.Retention))

	var victims []string
	for i := s.cfg.MinRetained; i < len(all); i++ {
		k := &all[i]
		if k.ExpiresAt != nil && k.ExpiresAt.Before(cutoff) {
			victims = append(victims, k.KID)
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	n, err := s.repo.Delete(ctx, victims)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.KeysPruned.Add(float64(n))
		logger.Named("keys").Info("signing keys pruned", logger.Count(n))
	}
	return n, nil
}

func maxDur(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
