package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bruteguard/internal/platform/kafka/producer"
	audit "bruteguard/pkg/platform/audit"
)

type recordingProducer struct {
	messages []*producer.Message
	err      error
}

func (p *recordingProducer) Produce(_ context.Context, msg *producer.Message) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func TestAppendPublishesJSONKeyedByID(t *testing.T) {
	prod := &recordingProducer{}
	store := New(prod, "")
	id := uuid.New()
	event := audit.Event{
		ID:         id,
		Timestamp:  time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		Action:     string(audit.EventCaptchaChallenge),
		EntityType: audit.EntityAuthentication,
		Context:    map[string]any{"ip": "203.0.113.10"},
	}

	require.NoError(t, store.Append(context.Background(), event))
	require.Len(t, prod.messages, 1)

	msg := prod.messages[0]
	assert.Equal(t, DefaultTopic, msg.Topic)
	assert.Equal(t, id.String(), string(msg.Key))
	assert.Equal(t, "auth.captcha_challenge", msg.Headers["event"])

	var decoded audit.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "203.0.113.10", decoded.Context["ip"])
}

func TestAppendWrapsProducerError(t *testing.T) {
	store := New(&recordingProducer{err: producer.ErrClosed}, "audit.custom")

	err := store.Append(context.Background(), audit.Event{Action: string(audit.EventLockout)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, producer.ErrClosed))
}
