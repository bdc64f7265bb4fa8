// Package schedule runs the periodic key maintenance loops.
package schedule

import (
	"context"
	"time"

	"github.com/tmstack/trustplane/internal/keys"
	"github.com/tmstack/trustplane/internal/observability/logger"
)

// Scheduler drives rotation and cleanup tickers against the key store.
type Scheduler struct {
	Store            *keys.Store
	RotationInterval time.Duration
	CleanupInterval  time.Duration
}

// Run blocks until ctx is cancelled. A zero RotationInterval disables the
// rotation loop; cleanup always runs when its interval is positive.
func (s *Scheduler) Run(ctx context.Context) {
	log := logger.Named("schedule")

	var rotateC, cleanC <-chan time.Time
	if s.RotationInterval > 0 {
		t := time.NewTicker(s.RotationInterval)
		defer t.Stop()
		rotateC = t.C
	}
	if s.CleanupInterval > 0 {
		t := time.NewTicker(s.CleanupInterval)
		defer t.Stop()
		cleanC = t.C
	}
	if rotateC == nil && cleanC == nil {
		log.Info("no maintenance intervals configured, scheduler idle")
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-rotateC:
			kid, err := s.Store.Rotate(ctx)
			if err != nil {
				log.Error("scheduled rotation failed", logger.Err(err))
				continue
			}
			log.Info("scheduled rotation complete", logger.KID(kid))
		case <-cleanC:
			n, err := s.Store.Prune(ctx)
			if err != nil {
				log.Warn("scheduled prune failed", logger.Err(err))
				continue
			}
			if n > 0 {
				log.Info("pruned expired signing keys", logger.Count(n))
			}
		}
	}
}
