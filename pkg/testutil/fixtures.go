package testutil

import (
	"context"
	"sync"
	"time"

	"bruteguard/pkg/requestcontext"
)

// TestTime is the fixed instant tests start from.
var TestTime = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

// Fixtures provides deterministic login inputs for tests.
var Fixtures = struct {
	Alice, Bob, Carol, Dave string
	IP1, IP2, IPv6          string
}{
	Alice: "alice@example.com",
	Bob:   "bob@example.com",
	Carol: "carol@example.com",
	Dave:  "dave@example.com",
	IP1:   "203.0.113.10",
	IP2:   "198.51.100.7",
	IPv6:  "2001:db8::1",
}

// Clock is a manually advanced request clock. Context stamps the current
// instant onto ctx so every store and service sees the same "now".
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Context returns ctx pinned to the clock's current instant.
func (c *Clock) Context(ctx context.Context) context.Context {
	return requestcontext.WithTime(ctx, c.Now())
}
