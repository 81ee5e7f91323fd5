// Package security delivers security audit events off the request path.
//
// Emit only enqueues. A background worker drains the queue in batches into
// the configured audit.Store, retrying each append with exponential backoff.
// A full queue overwrites its oldest event. Close drains whatever is left.
package security

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	audit "bruteguard/pkg/platform/audit"
)

const (
	defaultBufferSize    = 10000
	defaultMaxRetries    = 3
	defaultRetryBackoff  = 100 * time.Millisecond
	defaultFlushInterval = 50 * time.Millisecond
	defaultBatchSize     = 100
	closeDrainTimeout    = 5 * time.Second
)

// Publisher implements audit.Emitter on top of a bounded queue.
type Publisher struct {
	store   audit.Store
	queue   *RingBuffer
	logger  *slog.Logger
	metrics *Metrics

	maxRetries    int
	retryBackoff  time.Duration
	flushInterval time.Duration
	batchSize     int

	stop context.CancelFunc
	done chan struct{}
	// one batch at a time, whether from the worker or Flush
	drainMu sync.Mutex

	flushed           atomic.Int64
	retries           atomic.Int64
	droppedAfterRetry atomic.Int64
	reportedDrops     atomic.Int64
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithBufferSize bounds the queue. Values below 1 keep the default.
func WithBufferSize(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = NewRingBuffer(size)
		}
	}
}

// WithMaxRetries sets how many times a failed append is retried.
func WithMaxRetries(n int) Option {
	return func(p *Publisher) { p.maxRetries = n }
}

// WithRetryBackoff sets the first retry delay; later retries double it.
func WithRetryBackoff(d time.Duration) Option {
	return func(p *Publisher) { p.retryBackoff = d }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) { p.flushInterval = d }
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) { p.batchSize = n }
}

// New starts a publisher writing to store. Callers must Close it.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:         store,
		queue:         NewRingBuffer(defaultBufferSize),
		maxRetries:    defaultMaxRetries,
		retryBackoff:  defaultRetryBackoff,
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	go p.run(ctx)

	return p
}

// Emit enqueues event and returns nil. Overflow shows up in Stats and metrics
// rather than as an error, so a slow sink never changes a login decision.
func (p *Publisher) Emit(_ context.Context, event audit.Event) error {
	p.queue.Enqueue(event)
	p.reportQueue()
	return nil
}

// Flush drains the queue synchronously until it is empty or ctx ends.
func (p *Publisher) Flush(ctx context.Context) error {
	for p.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.drain(ctx)
	}
	return nil
}

// Close stops the worker and drains the queue within a bounded time.
func (p *Publisher) Close() error {
	p.stop()
	<-p.done

	ctx, cancel := context.WithTimeout(context.Background(), closeDrainTimeout)
	defer cancel()
	if err := p.Flush(ctx); err != nil && p.logger != nil {
		p.logger.Warn("security audit queue not drained on shutdown",
			"error", err,
			"remaining", p.queue.Len(),
		)
	}
	return nil
}

// BufferStats is a point-in-time view of the publisher's counters.
type BufferStats struct {
	Queued            int64
	Flushed           int64
	Dropped           int64 // overwritten while queued
	DroppedAfterRetry int64
	Retries           int64
}

func (p *Publisher) Stats() BufferStats {
	return BufferStats{
		Queued:            int64(p.queue.Len()),
		Flushed:           p.flushed.Load(),
		Dropped:           p.queue.Dropped(),
		DroppedAfterRetry: p.droppedAfterRetry.Load(),
		Retries:           p.retries.Load(),
	}
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

// drain persists one batch. Events still pending when ctx ends go back on
// the queue for Close to pick up.
func (p *Publisher) drain(ctx context.Context) {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	batch := p.queue.DequeueBatch(p.batchSize)
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	for i, event := range batch {
		if err := p.deliver(ctx, event); err != nil {
			if ctx.Err() != nil {
				for _, pending := range batch[i:] {
					p.queue.Enqueue(pending)
				}
				break
			}
			p.dropAfterRetry(ctx, event, err)
		}
	}

	if p.metrics != nil {
		p.metrics.ObserveFlushDuration(time.Since(start).Seconds())
	}
	p.reportQueue()
}

// deliver appends event, retrying up to maxRetries times.
func (p *Publisher) deliver(ctx context.Context, event audit.Event) error {
	backoff := p.retryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		if err = p.store.Append(ctx, event); err == nil {
			p.flushed.Add(1)
			if p.metrics != nil {
				p.metrics.IncFlushed()
			}
			return nil
		}
		if attempt >= p.maxRetries {
			return err
		}

		p.retries.Add(1)
		if p.metrics != nil {
			p.metrics.IncRetries()
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
}

func (p *Publisher) dropAfterRetry(ctx context.Context, event audit.Event, err error) {
	p.droppedAfterRetry.Add(1)
	if p.metrics != nil {
		p.metrics.IncDroppedAfterRetry()
	}
	if p.logger != nil {
		p.logger.WarnContext(ctx, "security audit event dropped after retries",
			"event", event.Action,
			"event_id", event.ID,
			"entity_type", event.EntityType,
			"error", err,
		)
	}
}

func (p *Publisher) reportQueue() {
	if p.metrics == nil {
		return
	}
	p.metrics.SetQueueDepth(p.queue.Len())
	dropped := p.queue.Dropped()
	if prev := p.reportedDrops.Swap(dropped); dropped > prev {
		p.metrics.AddDropped(dropped - prev)
	}
}
