package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"bruteguard/pkg/requestcontext"
)

// Emitter is the interface for audit event emission.
// Satisfied by security.Publisher and every Store.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Logger writes the text audit line and hands the full event to the emitter.
type Logger struct {
	textLogger *slog.Logger
	emitter    Emitter
}

// NewLogger creates an audit logger. Either argument may be nil.
func NewLogger(textLogger *slog.Logger, emitter Emitter) *Logger {
	return &Logger{
		textLogger: textLogger,
		emitter:    emitter,
	}
}

// Log stamps event with an id, timestamp and request id, logs textAttrs under the
// event name and emits the event. textAttrs go to text logs only, so callers pass
// anonymized values there and full values in event.Context.
//
// Usage:
//
//	err := logger.Log(ctx, audit.Event{Action: "auth.lockout", ...}, "ip_prefix", prefix)
func (l *Logger) Log(ctx context.Context, event Event, textAttrs ...any) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	l.logToText(ctx, event, textAttrs)
	return l.emitToAudit(ctx, event)
}

func (l *Logger) logToText(ctx context.Context, event Event, attributes []any) {
	if l.textLogger == nil {
		return
	}
	args := append(attributes, "event", event.Action, "log_type", "audit")
	if event.RequestID != "" {
		args = append(args, "request_id", event.RequestID)
	}
	l.textLogger.InfoContext(ctx, event.Action, args...)
}

func (l *Logger) emitToAudit(ctx context.Context, event Event) error {
	if l.emitter == nil {
		return nil
	}
	err := l.emitter.Emit(ctx, event)
	if err != nil && l.textLogger != nil {
		l.textLogger.WarnContext(ctx, "failed to emit audit event",
			"error", err,
			"event", event.Action,
		)
	}
	return err
}
