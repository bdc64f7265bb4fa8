// Package memory holds signing keys in process memory. Used by tests and
// single-node dev setups; anything multi-replica needs the postgres adapter.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tmstack/trustplane/internal/keys"
)

type Repo struct {
	mu   sync.Mutex
	byID map[string]*keys.SigningKey
}

func New() *Repo {
	return &Repo{byID: make(map[string]*keys.SigningKey)}
}

func (r *Repo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID), nil
}

func (r *Repo) Insert(ctx context.Context, k *keys.SigningKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(k)
}

func (r *Repo) insertLocked(k *keys.SigningKey) error {
	if _, ok := r.byID[k.KID]; ok {
		return keys.ErrConflict
	}
	cp := *k
	r.byID[k.KID] = &cp
	return nil
}

func (r *Repo) Newest(ctx context.Context) (*keys.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.sortedLocked()
	if len(list) == 0 {
		return nil, keys.ErrNotFound
	}
	cp := list[0]
	return &cp, nil
}

func (r *Repo) ListNewestFirst(ctx context.Context) ([]keys.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(), nil
}

func (r *Repo) Rotate(ctx context.Context, newKey *keys.SigningKey, graceExpiry time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev string
	for _, k := range r.sortedLocked() {
		if k.ExpiresAt == nil {
			exp := graceExpiry
			r.byID[k.KID].ExpiresAt = &exp
			prev = k.KID
			break // newest current wins; older stragglers stay stamped
		}
	}
	if err := r.insertLocked(newKey); err != nil {
		return "", err
	}
	return prev, nil
}

func (r *Repo) Delete(ctx context.Context, kids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, kid := range kids {
		if _, ok := r.byID[kid]; ok {
			delete(r.byID, kid)
			n++
		}
	}
	return n, nil
}

// sortedLocked returns copies ordered newest first, kid as tiebreaker so the
// order is stable within one second.
func (r *Repo) sortedLocked() []keys.SigningKey {
	out := make([]keys.SigningKey, 0, len(r.byID))
	for _, k := range r.byID {
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].KID > out[j].KID
	})
	return out
}
