package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bruteguard/internal/platform/config"
	"bruteguard/internal/platform/health"
	"bruteguard/internal/platform/logger"
	platformmetrics "bruteguard/internal/platform/metrics"
	"bruteguard/internal/ratelimit/admin"
	"bruteguard/internal/ratelimit/handler"
	ratelimitmetrics "bruteguard/internal/ratelimit/metrics"
	"bruteguard/internal/ratelimit/models"
	"bruteguard/internal/ratelimit/observability"
	lockoutsvc "bruteguard/internal/ratelimit/service/lockout"
	"bruteguard/internal/ratelimit/service/loginlimit"
	"bruteguard/internal/ratelimit/workers/cleanup"
	httptransport "bruteguard/internal/transport/http"
	"bruteguard/pkg/platform/middleware/metadata"
)

const redisPoolStatsInterval = 15 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bruteguard:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Server.LogLevel)

	log.Info("initializing bruteguard",
		"addr", cfg.Server.Addr,
		"environment", cfg.Server.Environment,
		"store_backend", cfg.StoreBackend,
		"audit_sink", cfg.Audit.Sink,
	)
	if cfg.Server.AdminAPIToken == "" {
		log.Warn("ADMIN_API_TOKEN is empty; admin endpoints will reject every request")
	}
	if cfg.Server.LockoutSecret == "" {
		log.Warn("LOCKOUT_KEY_SECRET is empty; lockout keys use an unkeyed hash")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := platformmetrics.NewRegistry(health.Version)
	healthHandler := health.New(cfg.Server.Environment, health.WithLogger(log))

	backend, err := openBackend(ctx, cfg, reg, log)
	if err != nil {
		return err
	}
	defer backend.Close()
	for name, check := range backend.checks {
		healthHandler.RegisterCheck(name, check)
	}

	auditSink, err := openAuditSink(cfg, backend, reg, log)
	if err != nil {
		return err
	}
	defer auditSink.Close(log)
	for name, check := range auditSink.checks {
		healthHandler.RegisterCheck(name, check)
	}

	lockouts, err := lockoutsvc.New(backend.counters, backend.index)
	if err != nil {
		return err
	}
	limiterMetrics := ratelimitmetrics.New(reg)
	hasher := models.NewIdentifierHasher(cfg.Server.LockoutSecret)
	sink := observability.NewSink(log, auditSink.emitter, hasher)

	limiter, err := loginlimit.New(backend.counters, lockouts, cfg.Limits,
		loginlimit.WithLogger(log),
		loginlimit.WithAuditSink(sink),
		loginlimit.WithMetrics(limiterMetrics),
		loginlimit.WithHasher(hasher),
	)
	if err != nil {
		return err
	}
	adminSvc, err := admin.New(limiter,
		admin.WithLogger(log),
		admin.WithAuditSink(sink),
	)
	if err != nil {
		return err
	}

	proxies, err := metadata.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Logger:         log,
		Handler:        handler.New(limiter, adminSvc, log),
		Health:         healthHandler,
		Registry:       reg,
		TrustedProxies: &metadata.Config{TrustedProxies: proxies},
		AdminToken:     cfg.Server.AdminAPIToken,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	cleaner := cleanup.New(backend.counters, lockouts, cfg.Limits.CaptchaCooldown(),
		cleanup.WithLogger(log),
		cleanup.WithInterval(cfg.Server.CleanupInterval),
		cleanup.WithMetrics(limiterMetrics),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return ignoreCanceled(cleaner.Start(gctx))
	})

	if backend.redis != nil {
		g.Go(func() error {
			return ignoreCanceled(backend.redis.RunPoolStats(gctx, redisPoolStatsInterval))
		})
	}

	err = g.Wait()
	if err != nil {
		log.Error("server stopped with error", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// closeQuietly logs a close failure; shutdown continues either way.
func closeQuietly(log *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warn("close failed", "component", name, "error", err)
	}
}
