// Package lockout indexes lockout expiries by identifier hash so the global
// "any recent lockout" question is one range query instead of a scan over every
// lockout record.
package lockout

import (
	"context"
	"sync"
	"time"
)

// InMemoryIndex is the single-process expiry index.
type InMemoryIndex struct {
	mu       sync.RWMutex
	expiries map[string]time.Time // keyed by identifier hash
}

func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{
		expiries: make(map[string]time.Time),
	}
}

// Record stores or replaces the expiry for hash.
func (s *InMemoryIndex) Record(_ context.Context, hash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expiries[hash] = expiresAt
	return nil
}

func (s *InMemoryIndex) Remove(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.expiries, hash)
	return nil
}

// AnyAfter reports whether any lockout expires strictly after cutoff.
func (s *InMemoryIndex) AnyAfter(_ context.Context, cutoff time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, expiresAt := range s.expiries {
		if expiresAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// Prune drops entries that expired at or before before.
func (s *InMemoryIndex) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for hash, expiresAt := range s.expiries {
		if !expiresAt.After(before) {
			delete(s.expiries, hash)
			removed++
		}
	}
	return removed, nil
}
