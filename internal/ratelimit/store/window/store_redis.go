package window

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"bruteguard/internal/ratelimit/models"
	"bruteguard/pkg/requestcontext"
)

// KeyPrefix namespaces every counter hash in Redis.
const KeyPrefix = "bruteguard:window:"

// Each counter is a hash {count, expires_at(ms)}. The caller's clock is passed in so
// that Redis and the in-process stores agree on what "expired" means; the native
// TTL only reclaims memory.
var incrementScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local expires_at = tonumber(redis.call('HGET', key, 'expires_at'))
if expires_at == nil or expires_at <= now then
    expires_at = now + ttl
    redis.call('HSET', key, 'count', 1, 'expires_at', expires_at)
    redis.call('PEXPIRE', key, ttl)
    return {1, expires_at}
end

local count = redis.call('HINCRBY', key, 'count', 1)
return {count, expires_at}
`)

var setScript = redis.NewScript(`
local expires_at = tonumber(ARGV[1]) + tonumber(ARGV[3])
redis.call('HSET', KEYS[1], 'count', ARGV[2], 'expires_at', expires_at)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

var purgeScript = redis.NewScript(`
local expires_at = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if expires_at ~= nil and expires_at <= tonumber(ARGV[1]) then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore shares counters across processes. Every mutation is a single Lua
// script, so increment-or-create is atomic per key.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (models.WindowCounter, error) {
	now := requestcontext.Now(ctx)
	res, err := incrementScript.Run(ctx, s.client, []string{KeyPrefix + key}, now.UnixMilli(), ttlMillis(ttl)).Slice()
	if err != nil {
		return models.WindowCounter{}, fmt.Errorf("increment window %s: %w", key, err)
	}
	if len(res) != 2 {
		return models.WindowCounter{}, fmt.Errorf("increment window %s: unexpected reply %v", key, res)
	}
	count, _ := res[0].(int64)
	expiresAt, _ := res[1].(int64)
	return models.WindowCounter{Key: key, Count: int(count), ExpiresAt: time.UnixMilli(expiresAt)}, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string) (int, error) {
	c, ok, err := s.load(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return c.Count, nil
}

func (s *RedisStore) TimeRemaining(ctx context.Context, key string) (time.Duration, error) {
	c, ok, err := s.load(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return c.Remaining(requestcontext.Now(ctx)), nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, KeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete window %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetWithExpiry(ctx context.Context, key string, value int, ttl time.Duration) error {
	now := requestcontext.Now(ctx)
	if err := setScript.Run(ctx, s.client, []string{KeyPrefix + key}, now.UnixMilli(), value, ttlMillis(ttl)).Err(); err != nil {
		return fmt.Errorf("set window %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PurgeExpired(ctx context.Context, key string) error {
	now := requestcontext.Now(ctx)
	if err := purgeScript.Run(ctx, s.client, []string{KeyPrefix + key}, now.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("purge window %s: %w", key, err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis reclaims expired hashes through their TTL.
func (s *RedisStore) DeleteExpired(context.Context) (int, error) {
	return 0, nil
}

// load reads key and reports whether it holds a live window.
func (s *RedisStore) load(ctx context.Context, key string) (models.WindowCounter, bool, error) {
	vals, err := s.client.HMGet(ctx, KeyPrefix+key, "count", "expires_at").Result()
	if err != nil {
		return models.WindowCounter{}, false, fmt.Errorf("read window %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return models.WindowCounter{}, false, nil
	}
	count, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return models.WindowCounter{}, false, fmt.Errorf("parse window %s count: %w", key, err)
	}
	expiresMs, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return models.WindowCounter{}, false, fmt.Errorf("parse window %s expiry: %w", key, err)
	}

	c := models.WindowCounter{Key: key, Count: count, ExpiresAt: time.UnixMilli(expiresMs)}
	if c.IsExpired(requestcontext.Now(ctx)) {
		return models.WindowCounter{}, false, nil
	}
	return c, true, nil
}

// ttlMillis rounds sub-millisecond ttls up so PEXPIRE never receives zero.
func ttlMillis(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}
