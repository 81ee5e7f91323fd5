// Package migrate applies the embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"bruteguard/migrations"
)

// Postgres runs pending postgres migrations against db.
func Postgres(ctx context.Context, db *sql.DB) error {
	return up(ctx, db, "postgres", migrations.PostgresDir)
}

// SQLite runs pending sqlite migrations against db.
func SQLite(ctx context.Context, db *sql.DB) error {
	return up(ctx, db, "sqlite3", migrations.SQLiteDir)
}

func up(ctx context.Context, db *sql.DB, dialect, dir string) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("apply %s migrations: %w", dialect, err)
	}
	return nil
}
