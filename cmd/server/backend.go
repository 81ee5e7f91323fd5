package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"bruteguard/internal/platform/config"
	"bruteguard/internal/platform/database"
	"bruteguard/internal/platform/health"
	"bruteguard/internal/platform/migrate"
	platformredis "bruteguard/internal/platform/redis"
	"bruteguard/internal/platform/sqlite"
	lockoutsvc "bruteguard/internal/ratelimit/service/lockout"
	"bruteguard/internal/ratelimit/service/loginlimit"
	lockoutstore "bruteguard/internal/ratelimit/store/lockout"
	"bruteguard/internal/ratelimit/store/window"
	"bruteguard/internal/ratelimit/workers/cleanup"
)

// counterStore is what every window store backend provides: attempt
// counters, lockout records and bulk expiry.
type counterStore interface {
	loginlimit.CounterStore
	lockoutsvc.RecordStore
	cleanup.CounterStore
}

// backend holds the selected storage and whatever connections it owns.
type backend struct {
	counters counterStore
	index    lockoutsvc.ExpiryIndex
	checks   map[string]health.CheckFunc

	redis    *platformredis.Client
	postgres *database.Pool
	sqlite   *sql.DB
	log      *slog.Logger
}

// openBackend connects the store selected by STORE_BACKEND and runs schema
// migrations for the SQL backends. A postgres pool is also opened when the
// audit sink needs one.
func openBackend(ctx context.Context, cfg config.Config, reg prometheus.Registerer, log *slog.Logger) (*backend, error) {
	b := &backend{checks: map[string]health.CheckFunc{}, log: log}

	if cfg.NeedsPostgres() {
		pool, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		b.postgres = pool
		b.checks["postgres"] = pool.Health
		if err := migrate.Postgres(ctx, pool.DB()); err != nil {
			b.Close()
			return nil, err
		}
	}

	switch cfg.StoreBackend {
	case config.BackendMemory:
		b.counters = window.NewInMemoryStore()
		b.index = lockoutstore.NewInMemoryIndex()

	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis, platformredis.NewPoolMetrics(reg))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.redis = client
		b.checks["redis"] = client.Health
		b.counters = window.NewRedisStore(client.Client)
		b.index = lockoutstore.NewRedisIndex(client.Client)

	case config.BackendPostgres:
		b.counters = window.NewPostgresStore(b.postgres.Pgx())
		b.index = lockoutstore.NewPostgresIndex(b.postgres.Pgx())

	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.sqlite = db
		b.checks["sqlite"] = db.PingContext
		if err := migrate.SQLite(ctx, db); err != nil {
			b.Close()
			return nil, err
		}
		b.counters = window.NewSQLiteStore(db)
		b.index = lockoutstore.NewSQLiteIndex(db)

	default:
		b.Close()
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	log.Info("login limit store ready", "backend", cfg.StoreBackend)
	return b, nil
}

func (b *backend) Close() {
	if b.redis != nil {
		closeQuietly(b.log, "redis", b.redis.Close)
	}
	if b.sqlite != nil {
		closeQuietly(b.log, "sqlite", b.sqlite.Close)
	}
	b.postgres.Close()
}
