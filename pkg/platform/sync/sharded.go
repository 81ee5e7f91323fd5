package sync

import (
	"sync"
)

// ShardCount is the number of lock shards. Stores that keep one map per shard
// size their arrays with it so a key's map and its mutex always line up.
const ShardCount = 32

// ShardedMutex provides per-key locking. Keys are hashed onto ShardCount
// mutexes, so unrelated keys rarely contend while two callers on the same key
// are always serialized.
type ShardedMutex struct {
	shards [ShardCount]sync.Mutex
}

func NewShardedMutex() *ShardedMutex {
	return &ShardedMutex{}
}

// Lock acquires the lock for the given key's shard.
func (m *ShardedMutex) Lock(key string) {
	m.shards[Shard(key)].Lock()
}

// Unlock releases the lock for the given key's shard.
func (m *ShardedMutex) Unlock(key string) {
	m.shards[Shard(key)].Unlock()
}

// LockShard locks a shard by index; used by maintenance sweeps that walk every shard.
func (m *ShardedMutex) LockShard(i int) {
	m.shards[i].Lock()
}

func (m *ShardedMutex) UnlockShard(i int) {
	m.shards[i].Unlock()
}

// Shard returns the shard index for key. Empty keys map to shard 0.
func Shard(key string) int {
	if key == "" {
		return 0
	}
	return int(hashString(key) % ShardCount)
}

// hashString is a djb2-style hash; good enough for shard selection.
func hashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
