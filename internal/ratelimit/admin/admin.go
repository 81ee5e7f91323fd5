// Package admin implements the operator actions on login-defense state:
// inspecting a lockout, lifting it early and resetting an address.
package admin

//go:generate mockgen -source=admin.go -destination=mocks/mocks.go -package=mocks Limiter,AuditSink

import (
	"context"
	"log/slog"
	"strings"

	"bruteguard/internal/ratelimit/models"
	"bruteguard/internal/ratelimit/observability"
	dErrors "bruteguard/pkg/domain-errors"
	"bruteguard/pkg/platform/audit"
	"bruteguard/pkg/requestcontext"
)

// Limiter is the slice of the login limiter the admin actions need.
type Limiter interface {
	Status(ctx context.Context, identifier string) (*models.LockoutStatus, error)
	ResetIdentifier(ctx context.Context, identifier string) error
	ResetIP(ctx context.Context, ip string) error
}

type AuditSink interface {
	Log(ctx context.Context, event, entityType, entityID, actorID string, eventContext map[string]any) error
}

type Service struct {
	limiter   Limiter
	auditSink AuditSink
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditSink(sink AuditSink) Option {
	return func(s *Service) {
		s.auditSink = sink
	}
}

func New(limiter Limiter, opts ...Option) (*Service, error) {
	if limiter == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "login limiter is required")
	}
	svc := &Service{limiter: limiter}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (s *Service) Status(ctx context.Context, identifier string) (*models.LockoutStatus, error) {
	if err := requireIdentifier(identifier); err != nil {
		return nil, err
	}
	return s.limiter.Status(ctx, identifier)
}

// ClearLockout lifts an identifier's lockout and zeroes its counter.
func (s *Service) ClearLockout(ctx context.Context, identifier, actorID string) error {
	if err := requireIdentifier(identifier); err != nil {
		return err
	}
	if err := s.limiter.ResetIdentifier(ctx, identifier); err != nil {
		return err
	}
	s.emit(ctx, audit.EventLockoutCleared, actorID, map[string]any{
		observability.KeyIdentifier: models.NormalizeIdentifier(identifier),
	})
	return nil
}

// ResetIP zeroes the counter of one source address.
func (s *Service) ResetIP(ctx context.Context, ip, actorID string) error {
	if strings.TrimSpace(ip) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "ip is required")
	}
	if err := s.limiter.ResetIP(ctx, ip); err != nil {
		return err
	}
	s.emit(ctx, audit.EventRateLimitReset, actorID, map[string]any{
		observability.KeyIP: models.NormalizeIP(ip),
	})
	return nil
}

func requireIdentifier(identifier string) error {
	if strings.TrimSpace(identifier) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	return nil
}

// emit records an operator action. Failures never undo the action.
func (s *Service) emit(ctx context.Context, event audit.AuditEvent, actorID string, eventContext map[string]any) {
	if s.auditSink == nil {
		return
	}
	if err := s.auditSink.Log(ctx, string(event), audit.EntityAuthentication, "", actorID, eventContext); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "security audit emission failed",
			"event", string(event),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}
