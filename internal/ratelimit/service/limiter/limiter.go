// Package limiter implements the fixed-window attempt limiter. A window opens on
// the first hit and resets to zero once decay has elapsed from that hit; it does
// not slide.
package limiter

import (
	"context"
	"fmt"
	"time"

	"bruteguard/internal/ratelimit/models"
)

// Store is the window counter primitive the limiter runs on.
type Store interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (models.WindowCounter, error)
	Peek(ctx context.Context, key string) (int, error)
	TimeRemaining(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, key string) error
}

// Limiter applies one (maxAttempts, decay) policy to keys in a shared store.
// Limiters derived with WithLimits share the store; callers keep their keyspaces
// apart by key prefix.
type Limiter struct {
	store       Store
	maxAttempts int
	decay       time.Duration
}

func New(store Store, maxAttempts int, decay time.Duration) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("window store is required")
	}
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", maxAttempts)
	}
	if decay <= 0 {
		return nil, fmt.Errorf("decay must be positive, got %s", decay)
	}
	return &Limiter{store: store, maxAttempts: maxAttempts, decay: decay}, nil
}

// WithLimits returns a limiter with a different policy over the same store.
func (l *Limiter) WithLimits(maxAttempts int, decay time.Duration) (*Limiter, error) {
	return New(l.store, maxAttempts, decay)
}

func (l *Limiter) MaxAttempts() int { return l.maxAttempts }

func (l *Limiter) Decay() time.Duration { return l.decay }

// Attempts returns the hits in key's current window, 0 when none is active.
func (l *Limiter) Attempts(ctx context.Context, key string) (int, error) {
	return l.store.Peek(ctx, key)
}

// Hit records one attempt and returns the new count.
func (l *Limiter) Hit(ctx context.Context, key string) (int, error) {
	c, err := l.store.Increment(ctx, key, l.decay)
	if err != nil {
		return 0, err
	}
	return c.Count, nil
}

func (l *Limiter) TooManyAttempts(ctx context.Context, key string) (bool, error) {
	n, err := l.Attempts(ctx, key)
	if err != nil {
		return false, err
	}
	return l.exceeded(n), nil
}

// AvailableIn returns the wait before key may be attempted again; zero unless
// key is over its limit.
func (l *Limiter) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	n, err := l.Attempts(ctx, key)
	if err != nil || !l.exceeded(n) {
		return 0, err
	}
	return l.store.TimeRemaining(ctx, key)
}

// Cooldown returns the attempts for key and, when over the limit, the wait in
// whole seconds rounded up.
func (l *Limiter) Cooldown(ctx context.Context, key string) (attempts, retryAfterSeconds int, err error) {
	attempts, err = l.Attempts(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	retryAfterSeconds, err = l.cooldownFor(ctx, key, attempts)
	return attempts, retryAfterSeconds, err
}

// HitWithCooldown records an attempt and returns the new count with its cooldown.
func (l *Limiter) HitWithCooldown(ctx context.Context, key string) (attempts, retryAfterSeconds int, err error) {
	attempts, err = l.Hit(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	retryAfterSeconds, err = l.cooldownFor(ctx, key, attempts)
	return attempts, retryAfterSeconds, err
}

// Clear deletes key's window.
func (l *Limiter) Clear(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

func (l *Limiter) cooldownFor(ctx context.Context, key string, attempts int) (int, error) {
	if !l.exceeded(attempts) {
		return 0, nil
	}
	remaining, err := l.store.TimeRemaining(ctx, key)
	if err != nil {
		return 0, err
	}
	// A window that lapsed between the two reads has no wait left.
	if remaining <= 0 {
		return 0, nil
	}
	return models.CeilSeconds(remaining), nil
}

func (l *Limiter) exceeded(attempts int) bool {
	return attempts >= l.maxAttempts
}
