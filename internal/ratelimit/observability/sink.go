// Package observability shapes login-defense security incidents into audit
// events and text audit lines.
package observability

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"bruteguard/internal/platform/privacy"
	"bruteguard/internal/ratelimit/models"
	"bruteguard/pkg/platform/audit"
)

// Redacted replaces the value of any sensitive context key.
const Redacted = "[REDACTED]"

// Context keys the login limiter attaches to its incidents.
const (
	KeyIdentifier         = "identifier"
	KeyIP                 = "ip"
	KeyIPAttempts         = "ip_attempts"
	KeyIdentifierAttempts = "identifier_attempts"
	KeyRetryAfterSeconds  = "retry_after_seconds"
	KeyLockoutSeconds     = "lockout_seconds"
)

var sensitiveKeyFragments = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"authorization",
	"credential",
}

// Sink is the security audit sink. Full identifier and IP values go to the
// audit event only; the text line carries an identifier hash prefix and an
// anonymized IP prefix instead.
type Sink struct {
	logger *audit.Logger
	hasher *models.IdentifierHasher
}

// NewSink builds a sink writing text lines to textLogger and events to emitter.
// Either may be nil.
func NewSink(textLogger *slog.Logger, emitter audit.Emitter, hasher *models.IdentifierHasher) *Sink {
	return &Sink{
		logger: audit.NewLogger(textLogger, emitter),
		hasher: hasher,
	}
}

// Log records one security incident. entityType defaults to "authentication".
// The returned error is the emitter's; callers treat audit as best effort.
func (s *Sink) Log(ctx context.Context, event, entityType, entityID, actorID string, eventContext map[string]any) error {
	if entityType == "" {
		entityType = audit.EntityAuthentication
	}
	clean := Redact(eventContext)

	return s.logger.Log(ctx, audit.Event{
		Action:     event,
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Context:    clean,
	}, s.textAttrs(clean)...)
}

func (s *Sink) textAttrs(eventContext map[string]any) []any {
	attrs := make([]any, 0, 2*len(eventContext))
	for _, k := range sortedKeys(eventContext) {
		v := eventContext[k]
		switch k {
		case KeyIP:
			ip, _ := v.(string)
			attrs = append(attrs, "ip_prefix", privacy.AnonymizeIP(ip))
		case KeyIdentifier:
			identifier, _ := v.(string)
			attrs = append(attrs, "identifier_hash", s.hasher.ShortHash(identifier))
		default:
			attrs = append(attrs, k, v)
		}
	}
	return attrs
}

// Redact returns a copy of eventContext with sensitive values replaced.
// Keys match case-insensitively on substring, so "captcha_token" and
// "X-Authorization" are both caught. Nested maps are redacted too.
func Redact(eventContext map[string]any) map[string]any {
	if eventContext == nil {
		return nil
	}
	out := make(map[string]any, len(eventContext))
	for k, v := range eventContext {
		switch {
		case isSensitive(k):
			out[k] = Redacted
		case isMap(v):
			out[k] = Redact(v.(map[string]any))
		default:
			out[k] = v
		}
	}
	return out
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func isMap(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
