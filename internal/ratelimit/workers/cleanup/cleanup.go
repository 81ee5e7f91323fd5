// Package cleanup runs the periodic maintenance of login-defense state.
// Every read path already ignores expired records; this only reclaims space.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bruteguard/internal/ratelimit/metrics"
	"bruteguard/pkg/requestcontext"
)

// Result contains the results of a cleanup run.
type Result struct {
	CountersPurged int
	LockoutsPruned int
	Duration       time.Duration
}

type CounterStore interface {
	DeleteExpired(ctx context.Context) (int, error)
}

type LockoutIndex interface {
	PruneIndex(ctx context.Context, retain time.Duration) (int, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

type Service struct {
	counters CounterStore
	lockouts LockoutIndex
	retain   time.Duration
	logger   *slog.Logger
	interval time.Duration
	metrics  *metrics.Metrics
}

// New builds the worker. retain is how long an expired lockout stays in the
// index; it must be at least the captcha cooldown or the global cooldown ends early.
func New(counters CounterStore, lockouts LockoutIndex, retain time.Duration, opts ...Option) *Service {
	s := &Service{
		counters: counters,
		lockouts: lockouts,
		retain:   retain,
		logger:   slog.Default(),
		interval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the cleanup every interval until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info("login limit cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	start := time.Now()
	res, err := s.RunOnce(ctx)
	duration := time.Since(start)

	if s.metrics != nil {
		s.metrics.ObserveCleanupDuration(duration.Seconds())
	}
	if err != nil {
		s.logger.Error("login_limit_cleanup_failed",
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
		if s.metrics != nil {
			s.metrics.IncrementCleanupRuns("error")
		}
		return
	}

	res.Duration = duration
	s.logger.Info("login_limit_cleanup_completed",
		"counters_purged", res.CountersPurged,
		"lockouts_pruned", res.LockoutsPruned,
		"duration_ms", duration.Milliseconds(),
	)
	if s.metrics != nil {
		s.metrics.AddCleanupPurged(res.CountersPurged, res.LockoutsPruned)
		s.metrics.IncrementCleanupRuns("success")
	}
}

// RunOnce executes a single cleanup run against one pinned clock reading.
// Both steps run even if the first fails.
func (s *Service) RunOnce(ctx context.Context) (*Result, error) {
	ctx, _ = requestcontext.Pin(ctx)

	purged, countersErr := s.counters.DeleteExpired(ctx)
	pruned, indexErr := s.lockouts.PruneIndex(ctx, s.retain)
	if err := errors.Join(countersErr, indexErr); err != nil {
		return nil, err
	}
	return &Result{CountersPurged: purged, LockoutsPruned: pruned}, nil
}
