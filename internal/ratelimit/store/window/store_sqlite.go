package window

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bruteguard/internal/ratelimit/models"
	"bruteguard/pkg/requestcontext"
)

// Times are stored as unix milliseconds.
const (
	sqliteIncrementSQL = `INSERT INTO rate_limit_counters (key, count, expires_at)
VALUES (?1, 1, ?3)
ON CONFLICT (key) DO UPDATE SET
	count = CASE WHEN rate_limit_counters.expires_at <= ?2 THEN 1 ELSE rate_limit_counters.count + 1 END,
	expires_at = CASE WHEN rate_limit_counters.expires_at <= ?2 THEN excluded.expires_at ELSE rate_limit_counters.expires_at END
RETURNING count, expires_at`

	sqlitePeekSQL = `SELECT count, expires_at FROM rate_limit_counters WHERE key = ? AND expires_at > ?`

	sqliteSetSQL = `INSERT INTO rate_limit_counters (key, count, expires_at)
VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET count = excluded.count, expires_at = excluded.expires_at`

	sqliteDeleteSQL        = `DELETE FROM rate_limit_counters WHERE key = ?`
	sqlitePurgeSQL         = `DELETE FROM rate_limit_counters WHERE key = ? AND expires_at <= ?`
	sqliteDeleteExpiredSQL = `DELETE FROM rate_limit_counters WHERE expires_at <= ?`
)

// SQLiteStore is the durable single-host backend. SQLite serializes writers, and
// the upsert runs as one statement, so increments never lose updates.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Increment(ctx context.Context, key string, ttl time.Duration) (models.WindowCounter, error) {
	now := requestcontext.Now(ctx)
	var count int
	var expiresMs int64
	err := s.db.QueryRowContext(ctx, sqliteIncrementSQL, key, now.UnixMilli(), now.Add(ttl).UnixMilli()).Scan(&count, &expiresMs)
	if err != nil {
		return models.WindowCounter{}, fmt.Errorf("increment window %s: %w", key, err)
	}
	return models.WindowCounter{Key: key, Count: count, ExpiresAt: time.UnixMilli(expiresMs)}, nil
}

func (s *SQLiteStore) Peek(ctx context.Context, key string) (int, error) {
	c, ok, err := s.load(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return c.Count, nil
}

func (s *SQLiteStore) TimeRemaining(ctx context.Context, key string) (time.Duration, error) {
	c, ok, err := s.load(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return c.Remaining(requestcontext.Now(ctx)), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, sqliteDeleteSQL, key); err != nil {
		return fmt.Errorf("delete window %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) SetWithExpiry(ctx context.Context, key string, value int, ttl time.Duration) error {
	expiresAt := requestcontext.Now(ctx).Add(ttl)
	if _, err := s.db.ExecContext(ctx, sqliteSetSQL, key, value, expiresAt.UnixMilli()); err != nil {
		return fmt.Errorf("set window %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) PurgeExpired(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, sqlitePurgeSQL, key, requestcontext.Now(ctx).UnixMilli()); err != nil {
		return fmt.Errorf("purge window %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, sqliteDeleteExpiredSQL, requestcontext.Now(ctx).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired windows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired windows: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) load(ctx context.Context, key string) (models.WindowCounter, bool, error) {
	var count int
	var expiresMs int64
	err := s.db.QueryRowContext(ctx, sqlitePeekSQL, key, requestcontext.Now(ctx).UnixMilli()).Scan(&count, &expiresMs)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WindowCounter{}, false, nil
	}
	if err != nil {
		return models.WindowCounter{}, false, fmt.Errorf("read window %s: %w", key, err)
	}
	return models.WindowCounter{Key: key, Count: count, ExpiresAt: time.UnixMilli(expiresMs)}, true, nil
}
