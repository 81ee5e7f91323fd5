// Package window holds the fixed-window counter stores behind every login
// limit. Each backend offers the same contract: atomic increment-or-create per
// key, and expired records read as absent.
package window

import (
	"context"
	"time"

	"bruteguard/internal/ratelimit/models"
	platformsync "bruteguard/pkg/platform/sync"
	"bruteguard/pkg/requestcontext"
)

type counterRecord struct {
	count     int
	expiresAt time.Time
}

// InMemoryStore keeps counters in sharded maps. Each shard's map is guarded by the
// matching ShardedMutex shard, so concurrent hits on one key serialize while hits on
// unrelated keys proceed in parallel. Single-process deployments and tests only:
// nothing survives a restart.
type InMemoryStore struct {
	locks  *platformsync.ShardedMutex
	shards [platformsync.ShardCount]map[string]counterRecord
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{locks: platformsync.NewShardedMutex()}
	for i := range s.shards {
		s.shards[i] = make(map[string]counterRecord)
	}
	return s
}

// Increment adds one to key's window, starting a new window of length ttl when
// none is active.
func (s *InMemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (models.WindowCounter, error) {
	now := requestcontext.Now(ctx)
	shard := s.shards[platformsync.Shard(key)]

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	rec, ok := shard[key]
	if !ok || !now.Before(rec.expiresAt) {
		rec = counterRecord{count: 0, expiresAt: now.Add(ttl)}
	}
	rec.count++
	shard[key] = rec

	return models.WindowCounter{Key: key, Count: rec.count, ExpiresAt: rec.expiresAt}, nil
}

func (s *InMemoryStore) Peek(ctx context.Context, key string) (int, error) {
	rec, ok := s.live(ctx, key)
	if !ok {
		return 0, nil
	}
	return rec.count, nil
}

func (s *InMemoryStore) TimeRemaining(ctx context.Context, key string) (time.Duration, error) {
	now := requestcontext.Now(ctx)
	rec, ok := s.live(ctx, key)
	if !ok {
		return 0, nil
	}
	return rec.expiresAt.Sub(now), nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	delete(s.shards[platformsync.Shard(key)], key)
	return nil
}

// SetWithExpiry overwrites key with value, expiring ttl from now.
func (s *InMemoryStore) SetWithExpiry(ctx context.Context, key string, value int, ttl time.Duration) error {
	now := requestcontext.Now(ctx)

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	s.shards[platformsync.Shard(key)][key] = counterRecord{count: value, expiresAt: now.Add(ttl)}
	return nil
}

// PurgeExpired removes key only if its record has already expired.
func (s *InMemoryStore) PurgeExpired(ctx context.Context, key string) error {
	now := requestcontext.Now(ctx)
	shard := s.shards[platformsync.Shard(key)]

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if rec, ok := shard[key]; ok && !now.Before(rec.expiresAt) {
		delete(shard, key)
	}
	return nil
}

// DeleteExpired sweeps every shard and returns how many records were removed.
func (s *InMemoryStore) DeleteExpired(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	removed := 0
	for i := range s.shards {
		s.locks.LockShard(i)
		for key, rec := range s.shards[i] {
			if !now.Before(rec.expiresAt) {
				delete(s.shards[i], key)
				removed++
			}
		}
		s.locks.UnlockShard(i)
	}
	return removed, nil
}

// live returns key's record when present and unexpired.
func (s *InMemoryStore) live(ctx context.Context, key string) (counterRecord, bool) {
	now := requestcontext.Now(ctx)

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	rec, ok := s.shards[platformsync.Shard(key)][key]
	if !ok || !now.Before(rec.expiresAt) {
		return counterRecord{}, false
	}
	return rec, true
}
