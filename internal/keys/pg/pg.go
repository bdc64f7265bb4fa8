// Package pg persists signing keys in Postgres via pgx. The rotate path is
// transactional so two replicas can never both hold a freshly-current key.
package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tmstack/trustplane/internal/keys"
)

type Repo struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Schema for reference (applied by cmd/migrate from migrations/postgres):
//
//	CREATE TABLE service_keys (
//	    kid         text PRIMARY KEY,
//	    private_pem text NOT NULL,
//	    public_jwk  jsonb NOT NULL,
//	    created_at  timestamptz NOT NULL DEFAULT now(),
//	    expires_at  timestamptz NULL
//	);
//	CREATE INDEX service_keys_created_at_idx ON service_keys (created_at DESC);

const selectCols = `kid, private_pem, public_jwk, created_at, expires_at`

func (r *Repo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM service_keys`).Scan(&n)
	return n, err
}

func (r *Repo) Insert(ctx context.Context, k *keys.SigningKey) error {
	const q = `
INSERT INTO service_keys (kid, private_pem, public_jwk, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, q, k.KID, k.PrivatePEM, k.PublicJWK, k.CreatedAt, k.ExpiresAt)
	return mapErr(err)
}

func (r *Repo) Newest(ctx context.Context) (*keys.SigningKey, error) {
	const q = `
SELECT ` + selectCols + `
FROM service_keys
ORDER BY created_at DESC, kid DESC
LIMIT 1`
	return scanOne(r.pool.QueryRow(ctx, q))
}

func (r *Repo) ListNewestFirst(ctx context.Context) ([]keys.SigningKey, error) {
	const q = `
SELECT ` + selectCols + `
FROM service_keys
ORDER BY created_at DESC, kid DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []keys.SigningKey
	for rows.Next() {
		var k keys.SigningKey
		if err := rows.Scan(&k.KID, &k.PrivatePEM, &k.PublicJWK, &k.CreatedAt, &k.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Rotate stamps the current key's expiry and inserts the successor in one
// transaction. The row lock on the current key serializes concurrent
// rotations across replicas; the second transaction sees a stamped key and
// stamps nothing.
func (r *Repo) Rotate(ctx context.Context, newKey *keys.SigningKey, graceExpiry time.Time) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prev string
	{
		const q = `
SELECT kid FROM service_keys
WHERE expires_at IS NULL
ORDER BY created_at DESC, kid DESC
LIMIT 1
FOR UPDATE`
		err := tx.QueryRow(ctx, q).Scan(&prev)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return "", err
		}
	}

	if prev != "" {
		const q = `UPDATE service_keys SET expires_at = $2 WHERE kid = $1 AND expires_at IS NULL`
		if _, err := tx.Exec(ctx, q, prev, graceExpiry); err != nil {
			return "", err
		}
	}

	{
		const q = `
INSERT INTO service_keys (kid, private_pem, public_jwk, created_at, expires_at)
VALUES ($1, $2, $3, $4, NULL)`
		if _, err := tx.Exec(ctx, q, newKey.KID, newKey.PrivatePEM, newKey.PublicJWK, newKey.CreatedAt); err != nil {
			return "", mapErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return prev, nil
}

func (r *Repo) Delete(ctx context.Context, kids []string) (int, error) {
	if len(kids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM service_keys WHERE kid = ANY($1)`, kids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanOne(row pgx.Row) (*keys.SigningKey, error) {
	var k keys.SigningKey
	if err := row.Scan(&k.KID, &k.PrivatePEM, &k.PublicJWK, &k.CreatedAt, &k.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, keys.ErrNotFound
		}
		return nil, err
	}
	return &k, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return keys.ErrConflict
	}
	return err
}
