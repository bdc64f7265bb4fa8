package keys

import (
	"context"
	"time"
)

// Repository is the durable store behind the KeyStore. Implementations must
// enforce kid uniqueness (ErrConflict) and make Rotate atomic: stamping the
// previous current key and inserting its successor either both happen or
// neither does, even across process replicas.
type Repository interface {
	Count(ctx context.Context) (int, error)
	Insert(ctx context.Context, k *SigningKey) error

	// Newest returns the most recently created key.
	Newest(ctx context.Context) (*SigningKey, error)

	// ListNewestFirst returns every key ordered by creation time descending.
	ListNewestFirst(ctx context.Context) ([]SigningKey, error)

	// Rotate stamps graceExpiry on the current key (ExpiresAt == nil, newest
	// wins if several exist transiently) and inserts newKey, atomically.
	// Returns the stamped kid, or "" when there was no current key.
	Rotate(ctx context.Context, newKey *SigningKey, graceExpiry time.Time) (string, error)

	// Delete removes the given kids, returning how many rows went away.
	Delete(ctx context.Context, kids []string) (int, error)
}
