// Package sqlite opens the single-host durable backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens path with WAL and a busy timeout so concurrent writers wait instead
// of failing with SQLITE_BUSY. ":memory:" databases are pinned to a single
// connection, otherwise every pooled connection would see its own empty database.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	dsn := path
	if !memory {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = "file:" + strings.TrimPrefix(path, "file:") + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
