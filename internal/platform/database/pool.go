// Package database owns the postgres connection pool shared by the stores,
// the audit sink and the migration runner.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"bruteguard/internal/platform/config"
)

// Pool wraps a pgxpool.Pool with health checking and a database/sql view.
type Pool struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// New creates and pings a connection pool. Returns nil if the URL is empty.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{pool: pool, db: stdlib.OpenDBFromPool(pool)}, nil
}

// Pgx returns the native pool used by the stores.
func (p *Pool) Pgx() *pgxpool.Pool {
	return p.pool
}

// DB returns a database/sql handle over the same pool, for goose.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Health checks if the database is reachable.
func (p *Pool) Health(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return fmt.Errorf("database not configured")
	}
	return p.pool.Ping(ctx)
}

// Close closes the sql view then the pool.
func (p *Pool) Close() {
	if p == nil || p.pool == nil {
		return
	}
	_ = p.db.Close()
	p.pool.Close()
}

// Stats returns pool statistics.
func (p *Pool) Stats() *pgxpool.Stat {
	if p == nil || p.pool == nil {
		return nil
	}
	return p.pool.Stat()
}
