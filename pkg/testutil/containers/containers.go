//go:build integration

// Package containers starts Postgres, Redis and Kafka with testcontainers for
// integration tests. Each container starts on first use and is shared by every
// suite in the test binary.
package containers

import (
	"sync"
	"testing"
)

type Manager struct {
	mu       sync.Mutex
	postgres *PostgresContainer
	redis    *RedisContainer
	kafka    *KafkaContainer
}

var manager = sync.OnceValue(func() *Manager { return &Manager{} })

// GetManager returns the process-wide container manager.
func GetManager() *Manager {
	return manager()
}

// lazy starts a container with start unless *slot already holds one.
func lazy[C any](m *Manager, t *testing.T, slot **C, start func(*testing.T) *C) *C {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if *slot == nil {
		*slot = start(t)
	}
	return *slot
}

// GetPostgres returns a Postgres container with the bruteguard schema applied.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	return lazy(m, t, &m.postgres, NewPostgresContainer)
}

func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	return lazy(m, t, &m.redis, NewRedisContainer)
}

func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	return lazy(m, t, &m.kafka, NewKafkaContainer)
}
