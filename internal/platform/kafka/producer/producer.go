// Package producer publishes records to Kafka through franz-go.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

var ErrClosed = errors.New("producer is closed")

const (
	defaultClientID = "bruteguard"
	closeTimeout    = 10 * time.Second
	lingerDelay     = 5 * time.Millisecond
)

// Message is one record to publish. Headers are written in key order.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer publishes synchronously: Produce returns once the broker has
// acknowledged the record at the configured acks level.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

type Config struct {
	Brokers         string // comma separated
	ClientID        string
	Acks            string // "0", "1" or "all"
	Retries         int
	DeliveryTimeout time.Duration
}

// DefaultConfig returns the settings used for audit delivery: every in-sync
// replica must acknowledge before a produce returns.
func DefaultConfig(brokers string) Config {
	return Config{
		Brokers:         brokers,
		ClientID:        defaultClientID,
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}
}

func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	client, err := kgo.NewClient(clientOptions(cfg, brokers)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

func clientOptions(cfg Config, brokers []string) []kgo.Opt {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RecordRetries(cfg.Retries),
		kgo.ProducerLinger(lingerDelay),
		kgo.AllowAutoTopicCreation(),
	}
	switch cfg.Acks {
	case "0":
		// idempotent writes require acks=all
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case "1":
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}
	return opts
}

func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	if err := p.client.ProduceSync(ctx, toRecord(msg)).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", msg.Topic, err)
	}
	return nil
}

func toRecord(msg *Message) *kgo.Record {
	record := &kgo.Record{Topic: msg.Topic, Key: msg.Key, Value: msg.Value}
	for _, k := range slices.Sorted(maps.Keys(msg.Headers)) {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(msg.Headers[k])})
	}
	return record
}

// Close flushes pending records and releases the client. Safe to call twice.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka producer closed with unflushed records", "error", err)
	}
	p.client.Close()
	return nil
}

// Ping checks that at least one broker answers.
func (p *Producer) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("ping kafka: %w", err)
	}
	return nil
}

func splitBrokers(raw string) []string {
	var out []string
	for b := range strings.SplitSeq(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
