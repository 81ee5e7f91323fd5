package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool used here.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	pgRecordSQL = `INSERT INTO lockout_expiries (identifier_hash, expires_at)
VALUES ($1, $2)
ON CONFLICT (identifier_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at`
	pgRemoveSQL   = `DELETE FROM lockout_expiries WHERE identifier_hash = $1`
	pgAnyAfterSQL = `SELECT EXISTS (SELECT 1 FROM lockout_expiries WHERE expires_at > $1)`
	pgPruneSQL    = `DELETE FROM lockout_expiries WHERE expires_at <= $1`
)

// PostgresIndex answers AnyAfter from the expires_at index.
type PostgresIndex struct {
	db PgxPool
}

func NewPostgresIndex(db PgxPool) *PostgresIndex {
	return &PostgresIndex{db: db}
}

func (s *PostgresIndex) Record(ctx context.Context, hash string, expiresAt time.Time) error {
	if _, err := s.db.Exec(ctx, pgRecordSQL, hash, expiresAt); err != nil {
		return fmt.Errorf("record lockout expiry: %w", err)
	}
	return nil
}

func (s *PostgresIndex) Remove(ctx context.Context, hash string) error {
	if _, err := s.db.Exec(ctx, pgRemoveSQL, hash); err != nil {
		return fmt.Errorf("remove lockout expiry: %w", err)
	}
	return nil
}

func (s *PostgresIndex) AnyAfter(ctx context.Context, cutoff time.Time) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, pgAnyAfterSQL, cutoff).Scan(&exists); err != nil {
		return false, fmt.Errorf("query lockout expiries: %w", err)
	}
	return exists, nil
}

func (s *PostgresIndex) Prune(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, pgPruneSQL, before)
	if err != nil {
		return 0, fmt.Errorf("prune lockout expiries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
