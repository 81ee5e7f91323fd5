package lockout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ExpiriesKey is the sorted set holding identifier hashes scored by expiry (unix ms).
const ExpiriesKey = "bruteguard:lockout:expiries"

// RedisIndex shares the expiry index across processes.
type RedisIndex struct {
	client redis.Cmdable
}

func NewRedisIndex(client redis.Cmdable) *RedisIndex {
	return &RedisIndex{client: client}
}

func (s *RedisIndex) Record(ctx context.Context, hash string, expiresAt time.Time) error {
	err := s.client.ZAdd(ctx, ExpiriesKey, redis.Z{Score: float64(expiresAt.UnixMilli()), Member: hash}).Err()
	if err != nil {
		return fmt.Errorf("record lockout expiry: %w", err)
	}
	return nil
}

func (s *RedisIndex) Remove(ctx context.Context, hash string) error {
	if err := s.client.ZRem(ctx, ExpiriesKey, hash).Err(); err != nil {
		return fmt.Errorf("remove lockout expiry: %w", err)
	}
	return nil
}

func (s *RedisIndex) AnyAfter(ctx context.Context, cutoff time.Time) (bool, error) {
	n, err := s.client.ZCount(ctx, ExpiriesKey, "("+strconv.FormatInt(cutoff.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return false, fmt.Errorf("count lockout expiries: %w", err)
	}
	return n > 0, nil
}

func (s *RedisIndex) Prune(ctx context.Context, before time.Time) (int, error) {
	n, err := s.client.ZRemRangeByScore(ctx, ExpiriesKey, "-inf", strconv.FormatInt(before.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("prune lockout expiries: %w", err)
	}
	return int(n), nil
}
