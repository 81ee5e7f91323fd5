package lockout

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	sqliteRecordSQL = `INSERT INTO lockout_expiries (identifier_hash, expires_at)
VALUES (?, ?)
ON CONFLICT (identifier_hash) DO UPDATE SET expires_at = excluded.expires_at`
	sqliteRemoveSQL   = `DELETE FROM lockout_expiries WHERE identifier_hash = ?`
	sqliteAnyAfterSQL = `SELECT EXISTS (SELECT 1 FROM lockout_expiries WHERE expires_at > ?)`
	sqlitePruneSQL    = `DELETE FROM lockout_expiries WHERE expires_at <= ?`
)

// SQLiteIndex stores expiries as unix milliseconds.
type SQLiteIndex struct {
	db *sql.DB
}

func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

func (s *SQLiteIndex) Record(ctx context.Context, hash string, expiresAt time.Time) error {
	if _, err := s.db.ExecContext(ctx, sqliteRecordSQL, hash, expiresAt.UnixMilli()); err != nil {
		return fmt.Errorf("record lockout expiry: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) Remove(ctx context.Context, hash string) error {
	if _, err := s.db.ExecContext(ctx, sqliteRemoveSQL, hash); err != nil {
		return fmt.Errorf("remove lockout expiry: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) AnyAfter(ctx context.Context, cutoff time.Time) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, sqliteAnyAfterSQL, cutoff.UnixMilli()).Scan(&exists); err != nil {
		return false, fmt.Errorf("query lockout expiries: %w", err)
	}
	return exists, nil
}

func (s *SQLiteIndex) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, sqlitePruneSQL, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune lockout expiries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune lockout expiries: %w", err)
	}
	return int(n), nil
}
