package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one security audit record. Context carries event-specific fields and
// must already be redacted by the time an Event is built.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"event"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

type AuditEvent string

const (
	EventLockout          AuditEvent = "auth.lockout"
	EventRateLimit        AuditEvent = "auth.rate_limit"
	EventCaptchaChallenge AuditEvent = "auth.captcha_challenge"
	EventLockoutCleared   AuditEvent = "auth.lockout_cleared"
	EventRateLimitReset   AuditEvent = "auth.rate_limit_reset"
)

// EntityAuthentication is the entity type of every login-defense event.
const EntityAuthentication = "authentication"

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
