package window

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"bruteguard/internal/ratelimit/models"
	"bruteguard/pkg/requestcontext"
)

// PgxPool is the subset of *pgxpool.Pool the SQL stores use; pgxmock.PgxPoolIface
// satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	pgIncrementSQL = `INSERT INTO rate_limit_counters (key, count, expires_at)
VALUES ($1, 1, $3)
ON CONFLICT (key) DO UPDATE SET
	count = CASE WHEN rate_limit_counters.expires_at <= $2 THEN 1 ELSE rate_limit_counters.count + 1 END,
	expires_at = CASE WHEN rate_limit_counters.expires_at <= $2 THEN EXCLUDED.expires_at ELSE rate_limit_counters.expires_at END
RETURNING count, expires_at`

	pgPeekSQL = `SELECT count, expires_at FROM rate_limit_counters WHERE key = $1 AND expires_at > $2`

	pgSetSQL = `INSERT INTO rate_limit_counters (key, count, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET count = EXCLUDED.count, expires_at = EXCLUDED.expires_at`

	pgDeleteSQL        = `DELETE FROM rate_limit_counters WHERE key = $1`
	pgPurgeSQL         = `DELETE FROM rate_limit_counters WHERE key = $1 AND expires_at <= $2`
	pgDeleteExpiredSQL = `DELETE FROM rate_limit_counters WHERE expires_at <= $1`
)

// PostgresStore keeps counters in the rate_limit_counters table. Increment is a
// single upsert, so Postgres row locking gives per-key atomicity across processes.
type PostgresStore struct {
	db PgxPool
}

func NewPostgresStore(db PgxPool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Increment(ctx context.Context, key string, ttl time.Duration) (models.WindowCounter, error) {
	now := requestcontext.Now(ctx)
	c := models.WindowCounter{Key: key}
	if err := s.db.QueryRow(ctx, pgIncrementSQL, key, now, now.Add(ttl)).Scan(&c.Count, &c.ExpiresAt); err != nil {
		return models.WindowCounter{}, fmt.Errorf("increment window %s: %w", key, err)
	}
	return c, nil
}

func (s *PostgresStore) Peek(ctx context.Context, key string) (int, error) {
	c, ok, err := s.load(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return c.Count, nil
}

func (s *PostgresStore) TimeRemaining(ctx context.Context, key string) (time.Duration, error) {
	c, ok, err := s.load(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return c.Remaining(requestcontext.Now(ctx)), nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, pgDeleteSQL, key); err != nil {
		return fmt.Errorf("delete window %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) SetWithExpiry(ctx context.Context, key string, value int, ttl time.Duration) error {
	now := requestcontext.Now(ctx)
	if _, err := s.db.Exec(ctx, pgSetSQL, key, value, now.Add(ttl)); err != nil {
		return fmt.Errorf("set window %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, pgPurgeSQL, key, requestcontext.Now(ctx)); err != nil {
		return fmt.Errorf("purge window %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, pgDeleteExpiredSQL, requestcontext.Now(ctx))
	if err != nil {
		return 0, fmt.Errorf("delete expired windows: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) load(ctx context.Context, key string) (models.WindowCounter, bool, error) {
	c := models.WindowCounter{Key: key}
	err := s.db.QueryRow(ctx, pgPeekSQL, key, requestcontext.Now(ctx)).Scan(&c.Count, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WindowCounter{}, false, nil
	}
	if err != nil {
		return models.WindowCounter{}, false, fmt.Errorf("read window %s: %w", key, err)
	}
	return c, true, nil
}
