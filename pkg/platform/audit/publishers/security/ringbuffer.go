package security

import (
	"sync"
	"sync/atomic"

	audit "bruteguard/pkg/platform/audit"
)

// RingBuffer is a bounded FIFO of audit events. When full, Enqueue overwrites
// the oldest event and counts it as dropped.
type RingBuffer struct {
	mu      sync.Mutex
	items   []audit.Event
	head    int
	size    int
	dropped atomic.Int64
}

// NewRingBuffer creates a buffer holding at most capacity events.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{items: make([]audit.Event, capacity)}
}

// Enqueue adds event, dropping the oldest entry if the buffer is full.
func (b *RingBuffer) Enqueue(event audit.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tail := (b.head + b.size) % len(b.items)
	b.items[tail] = event
	if b.size == len(b.items) {
		b.head = (b.head + 1) % len(b.items)
		b.dropped.Add(1)
		return
	}
	b.size++
}

// DequeueBatch removes and returns up to n events in insertion order.
func (b *RingBuffer) DequeueBatch(n int) []audit.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]audit.Event, n)
	for i := range n {
		idx := (b.head + i) % len(b.items)
		out[i] = b.items[idx]
		b.items[idx] = audit.Event{}
	}
	b.head = (b.head + n) % len(b.items)
	b.size -= n
	return out
}

// Len returns the number of buffered events.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped returns how many events were overwritten before being flushed.
func (b *RingBuffer) Dropped() int64 {
	return b.dropped.Load()
}
