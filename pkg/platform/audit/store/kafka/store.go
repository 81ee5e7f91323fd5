// Package kafka publishes security audit events to a Kafka topic as JSON.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"bruteguard/internal/platform/kafka/producer"
	audit "bruteguard/pkg/platform/audit"
)

// DefaultTopic receives audit events when no topic is configured.
const DefaultTopic = "security.audit"

// Producer is the subset of *producer.Producer the store needs.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Store implements audit.Store by producing one record per event, keyed by
// event id so downstream consumers can deduplicate retried deliveries.
type Store struct {
	producer Producer
	topic    string
}

func New(p Producer, topic string) *Store {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Store{producer: p, topic: topic}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := &producer.Message{
		Topic: s.topic,
		Key:   []byte(event.ID.String()),
		Value: value,
		Headers: map[string]string{
			"event":       event.Action,
			"entity_type": event.EntityType,
		},
	}
	if err := s.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}
