// Package lockout records hard, identifier-scoped lockouts. The lockout record
// lives in the window store under "lockout:<hash>"; its expiry is mirrored in an
// index so callers can ask whether any identifier was locked out recently.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bruteguard/internal/ratelimit/models"
	"bruteguard/pkg/requestcontext"
)

// RecordStore holds the per-identifier lockout record.
type RecordStore interface {
	SetWithExpiry(ctx context.Context, key string, value int, ttl time.Duration) error
	TimeRemaining(ctx context.Context, key string) (time.Duration, error)
	PurgeExpired(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
}

// ExpiryIndex tracks lockout expiries across all identifiers.
type ExpiryIndex interface {
	Record(ctx context.Context, hash string, expiresAt time.Time) error
	Remove(ctx context.Context, hash string) error
	AnyAfter(ctx context.Context, cutoff time.Time) (bool, error)
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Store is keyed by identifier hash; see models.IdentifierHasher.
type Store struct {
	records RecordStore
	index   ExpiryIndex
}

func New(records RecordStore, index ExpiryIndex) (*Store, error) {
	if records == nil {
		return nil, fmt.Errorf("lockout record store is required")
	}
	if index == nil {
		return nil, fmt.Errorf("lockout expiry index is required")
	}
	return &Store{records: records, index: index}, nil
}

// Remaining returns the time left on hash's lockout. A record found expired is
// purged as a side effect; its index entry stays so the recent-lockout signal
// outlives the lockout itself.
func (s *Store) Remaining(ctx context.Context, hash string) (time.Duration, error) {
	key := models.NewLockoutKey(hash).String()
	remaining, err := s.records.TimeRemaining(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read lockout: %w", err)
	}
	if remaining > 0 {
		return remaining, nil
	}
	if err := s.records.PurgeExpired(ctx, key); err != nil {
		return 0, fmt.Errorf("purge expired lockout: %w", err)
	}
	return 0, nil
}

// Set creates or overwrites hash's lockout, expiring d from now.
func (s *Store) Set(ctx context.Context, hash string, d time.Duration) error {
	now := requestcontext.Now(ctx)
	if err := s.records.SetWithExpiry(ctx, models.NewLockoutKey(hash).String(), 1, d); err != nil {
		return fmt.Errorf("write lockout: %w", err)
	}
	if err := s.index.Record(ctx, hash, now.Add(d)); err != nil {
		return fmt.Errorf("index lockout: %w", err)
	}
	return nil
}

// Clear removes hash's lockout and its index entry.
func (s *Store) Clear(ctx context.Context, hash string) error {
	return errors.Join(
		wrap("delete lockout", s.records.Delete(ctx, models.NewLockoutKey(hash).String())),
		wrap("unindex lockout", s.index.Remove(ctx, hash)),
	)
}

// AnyExpiringWithin reports whether any identifier holds a lockout that is still
// active or expired less than window ago.
func (s *Store) AnyExpiringWithin(ctx context.Context, window time.Duration) (bool, error) {
	found, err := s.index.AnyAfter(ctx, requestcontext.Now(ctx).Add(-window))
	if err != nil {
		return false, fmt.Errorf("query recent lockouts: %w", err)
	}
	return found, nil
}

// PruneIndex drops index entries that expired more than retain ago.
func (s *Store) PruneIndex(ctx context.Context, retain time.Duration) (int, error) {
	n, err := s.index.Prune(ctx, requestcontext.Now(ctx).Add(-retain))
	if err != nil {
		return 0, fmt.Errorf("prune lockout index: %w", err)
	}
	return n, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
