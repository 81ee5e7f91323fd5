// Package loginlimit composes the IP limiter, the identifier limiter and the
// lockout store into the per-attempt login decision.
package loginlimit

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks CounterStore,LockoutStore,AuditSink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bruteguard/internal/ratelimit/config"
	"bruteguard/internal/ratelimit/metrics"
	"bruteguard/internal/ratelimit/models"
	"bruteguard/internal/ratelimit/observability"
	"bruteguard/internal/ratelimit/service/limiter"
	dErrors "bruteguard/pkg/domain-errors"
	"bruteguard/pkg/platform/audit"
	"bruteguard/pkg/requestcontext"
)

const (
	opCheck   = "check"
	opFailure = "failure"
	opSuccess = "success"
	opStatus  = "status"
	opReset   = "reset"
)

// CounterStore is the window counter store shared by both limiters.
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (models.WindowCounter, error)
	Peek(ctx context.Context, key string) (int, error)
	TimeRemaining(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, key string) error
}

// LockoutStore holds hard lockouts keyed by identifier hash.
type LockoutStore interface {
	Remaining(ctx context.Context, hash string) (time.Duration, error)
	Set(ctx context.Context, hash string, d time.Duration) error
	Clear(ctx context.Context, hash string) error
	AnyExpiringWithin(ctx context.Context, window time.Duration) (bool, error)
}

// AuditSink receives security incidents. Failures never affect a decision.
type AuditSink interface {
	Log(ctx context.Context, event, entityType, entityID, actorID string, eventContext map[string]any) error
}

// Service is the login rate limiter. It holds no lock across a call; per-key
// atomicity comes from the stores.
type Service struct {
	ipLimiter         *limiter.Limiter
	identifierLimiter *limiter.Limiter
	lockouts          LockoutStore
	limits            config.LoginLimits
	hasher            *models.IdentifierHasher
	auditSink         AuditSink
	metrics           *metrics.Metrics
	tracer            trace.Tracer
	logger            *slog.Logger
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithHasher sets the identifier hasher used for lockout keys. Defaults to an
// unkeyed hasher.
func WithHasher(h *models.IdentifierHasher) Option {
	return func(s *Service) {
		s.hasher = h
	}
}

// New validates limits and builds both limiters over counters.
func New(counters CounterStore, lockouts LockoutStore, limits config.LoginLimits, opts ...Option) (*Service, error) {
	if counters == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "counter store is required")
	}
	if lockouts == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "lockout store is required")
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	ipLimiter, err := limiter.New(counters, limits.MaxAttemptsPerIP, limits.Decay())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid ip limiter")
	}
	identifierLimiter, err := ipLimiter.WithLimits(limits.MaxAttemptsPerIdentifier, limits.Decay())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid identifier limiter")
	}

	svc := &Service{
		ipLimiter:         ipLimiter,
		identifierLimiter: identifierLimiter,
		lockouts:          lockouts,
		limits:            limits,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.hasher == nil {
		svc.hasher = models.NewIdentifierHasher("")
	}
	if svc.tracer == nil {
		svc.tracer = otel.Tracer("bruteguard/loginlimit")
	}
	return svc, nil
}

// Limits returns the policy the service was built with.
func (s *Service) Limits() config.LoginLimits {
	return s.limits
}

// attemptKeys is every store key one (identifier, ip) pair touches.
type attemptKeys struct {
	identifier     string // normalized
	ip             string // normalized
	identifierKey  string
	ipKey          string
	identifierHash string
}

func (s *Service) keysFor(identifier, ip string) attemptKeys {
	return attemptKeys{
		identifier:     models.NormalizeIdentifier(identifier),
		ip:             models.NormalizeIP(ip),
		identifierKey:  models.NewIdentifierKey(identifier).String(),
		ipKey:          models.NewIPKey(ip).String(),
		identifierHash: s.hasher.Hash(identifier),
	}
}

// Check is the read-only pre-check run before credentials are evaluated.
// It never increments a counter.
func (s *Service) Check(ctx context.Context, identifier, ip string) (decision models.RateLimitDecision, err error) {
	ctx, _ = requestcontext.Pin(ctx)
	ctx, span := s.startSpan(ctx, "loginlimit.check")
	defer func() { s.finish(span, opCheck, decision, err) }()

	keys := s.keysFor(identifier, ip)

	if locked, lockedDecision, err := s.activeLockout(ctx, opCheck, keys); err != nil || locked {
		return lockedDecision, err
	}

	ipAttempts, ipRetry, err := s.ipLimiter.Cooldown(ctx, keys.ipKey)
	if err != nil {
		return models.RateLimitDecision{}, s.storeError(ctx, opCheck, err, "read ip attempts")
	}
	identifierAttempts, identifierRetry, err := s.identifierLimiter.Cooldown(ctx, keys.identifierKey)
	if err != nil {
		return models.RateLimitDecision{}, s.storeError(ctx, opCheck, err, "read identifier attempts")
	}

	captcha, err := s.needsCaptcha(ctx, ipAttempts, identifierAttempts)
	if err != nil {
		return models.RateLimitDecision{}, s.storeError(ctx, opCheck, err, "read recent lockouts")
	}

	retryAfter := max(ipRetry, identifierRetry)
	return models.RateLimitDecision{
		Allowed:            retryAfter == 0,
		Cooldown:           retryAfter > 0,
		CaptchaRequired:    captcha,
		RetryAfterSeconds:  retryAfter,
		IPAttempts:         ipAttempts,
		IdentifierAttempts: identifierAttempts,
	}, nil
}

// RecordFailure counts a failed credential check against both limiters and
// escalates to a lockout once the identifier crosses the lockout threshold.
// A locked identifier's counters are left untouched.
func (s *Service) RecordFailure(ctx context.Context, identifier, ip string) (decision models.RateLimitDecision, err error) {
	ctx, _ = requestcontext.Pin(ctx)
	ctx, span := s.startSpan(ctx, "loginlimit.record_failure")
	defer func() { s.finish(span, opFailure, decision, err) }()

	keys := s.keysFor(identifier, ip)

	if locked, lockedDecision, err := s.activeLockout(ctx, opFailure, keys); err != nil || locked {
		return lockedDecision, err
	}

	ipAttempts, ipRetry, err := s.ipLimiter.HitWithCooldown(ctx, keys.ipKey)
	if err != nil {
		return models.RateLimitDecision{}, s.storeError(ctx, opFailure, err, "record ip attempt")
	}
	identifierAttempts, identifierRetry, err := s.identifierLimiter.HitWithCooldown(ctx, keys.identifierKey)
	if err != nil {
		return models.RateLimitDecision{}, s.storeError(ctx, opFailure, err, "record identifier attempt")
	}

	captcha, err := s.needsCaptcha(ctx, ipAttempts, identifierAttempts)
	if err != nil {
		return models.RateLimitDecision{}, s.storeError(ctx, opFailure, err, "read recent lockouts")
	}

	decision = models.RateLimitDecision{
		CaptchaRequired:    captcha,
		RetryAfterSeconds:  max(ipRetry, identifierRetry),
		IPAttempts:         ipAttempts,
		IdentifierAttempts: identifierAttempts,
	}

	if s.limits.LockoutEnabled() && identifierAttempts >= s.limits.LockoutThreshold {
		if err := s.escalate(ctx, keys, &decision); err != nil {
			return models.RateLimitDecision{}, err
		}
	} else if decision.RetryAfterSeconds > 0 {
		s.incident(ctx, audit.EventRateLimit, keys, decision)
	}

	if decision.CaptchaRequired {
		if s.metrics != nil {
			s.metrics.IncrementCaptchaChallenges()
		}
		s.incident(ctx, audit.EventCaptchaChallenge, keys, decision)
	}

	decision.Cooldown = decision.RetryAfterSeconds > 0
	decision.Allowed = !decision.Locked && decision.RetryAfterSeconds == 0
	return decision, nil
}

// escalate locks the identifier out and clears its counter so it starts from
// a clean window once the lockout lapses. The IP counter is kept.
func (s *Service) escalate(ctx context.Context, keys attemptKeys, decision *models.RateLimitDecision) error {
	duration := s.limits.LockoutDuration()
	if err := s.lockouts.Set(ctx, keys.identifierHash, duration); err != nil {
		return s.storeError(ctx, opFailure, err, "write lockout")
	}
	if err := s.identifierLimiter.Clear(ctx, keys.identifierKey); err != nil {
		return s.storeError(ctx, opFailure, err, "clear identifier attempts")
	}

	lockoutSeconds := models.CeilSeconds(duration)
	decision.Locked = true
	decision.LockoutSeconds = lockoutSeconds
	decision.RetryAfterSeconds = max(decision.RetryAfterSeconds, lockoutSeconds)

	if s.metrics != nil {
		s.metrics.IncrementLockouts()
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "login identifier locked out",
			"identifier_hash", keys.identifierHash[:16],
			"identifier_attempts", decision.IdentifierAttempts,
			"lockout_seconds", lockoutSeconds,
		)
	}
	s.incident(ctx, audit.EventLockout, keys, *decision)
	return nil
}

// RecordSuccess clears both counters and any lockout for the pair. It never
// increments anything and is safe to repeat.
func (s *Service) RecordSuccess(ctx context.Context, identifier, ip string) (err error) {
	ctx, _ = requestcontext.Pin(ctx)
	ctx, span := s.startSpan(ctx, "loginlimit.record_success")
	defer func() {
		s.endSpan(span, err)
		if err == nil && s.metrics != nil {
			s.metrics.ObserveDecision(opSuccess, models.OutcomeAllowed)
		}
	}()

	keys := s.keysFor(identifier, ip)

	if err := s.ipLimiter.Clear(ctx, keys.ipKey); err != nil {
		return s.storeError(ctx, opSuccess, err, "clear ip attempts")
	}
	if err := s.identifierLimiter.Clear(ctx, keys.identifierKey); err != nil {
		return s.storeError(ctx, opSuccess, err, "clear identifier attempts")
	}
	if err := s.lockouts.Clear(ctx, keys.identifierHash); err != nil {
		return s.storeError(ctx, opSuccess, err, "clear lockout")
	}
	return nil
}

// Status reports an identifier's lockout and current attempt count.
func (s *Service) Status(ctx context.Context, identifier string) (*models.LockoutStatus, error) {
	ctx, _ = requestcontext.Pin(ctx)
	keys := s.keysFor(identifier, "")

	remaining, err := s.lockouts.Remaining(ctx, keys.identifierHash)
	if err != nil {
		return nil, s.storeError(ctx, opStatus, err, "read lockout")
	}
	attempts, err := s.identifierLimiter.Attempts(ctx, keys.identifierKey)
	if err != nil {
		return nil, s.storeError(ctx, opStatus, err, "read identifier attempts")
	}

	seconds := models.CeilSeconds(remaining)
	return &models.LockoutStatus{
		Identifier:         keys.identifier,
		Locked:             seconds > 0,
		RemainingSeconds:   seconds,
		IdentifierAttempts: attempts,
	}, nil
}

// ResetIdentifier clears an identifier's lockout and counter without touching
// any IP counter.
func (s *Service) ResetIdentifier(ctx context.Context, identifier string) error {
	keys := s.keysFor(identifier, "")
	if err := s.lockouts.Clear(ctx, keys.identifierHash); err != nil {
		return s.storeError(ctx, opReset, err, "clear lockout")
	}
	if err := s.identifierLimiter.Clear(ctx, keys.identifierKey); err != nil {
		return s.storeError(ctx, opReset, err, "clear identifier attempts")
	}
	return nil
}

// ResetIP clears the counter for one source address.
func (s *Service) ResetIP(ctx context.Context, ip string) error {
	if err := s.ipLimiter.Clear(ctx, models.NewIPKey(ip).String()); err != nil {
		return s.storeError(ctx, opReset, err, "clear ip attempts")
	}
	return nil
}

func (s *Service) activeLockout(ctx context.Context, op string, keys attemptKeys) (bool, models.RateLimitDecision, error) {
	remaining, err := s.lockouts.Remaining(ctx, keys.identifierHash)
	if err != nil {
		return false, models.RateLimitDecision{}, s.storeError(ctx, op, err, "read lockout")
	}
	seconds := models.CeilSeconds(remaining)
	if seconds == 0 {
		return false, models.RateLimitDecision{}, nil
	}
	return true, models.LockedDecision(seconds), nil
}

// needsCaptcha is true once either counter reaches the CAPTCHA threshold, or
// while any identifier anywhere is locked out or was within the cooldown.
func (s *Service) needsCaptcha(ctx context.Context, ipAttempts, identifierAttempts int) (bool, error) {
	if !s.limits.CaptchaEnabled() {
		return false, nil
	}
	threshold := s.limits.CaptchaAfterAttempts
	if identifierAttempts >= threshold || ipAttempts >= threshold {
		return true, nil
	}
	return s.lockouts.AnyExpiringWithin(ctx, s.limits.CaptchaCooldown())
}

// incident emits one audit event. Sink failures are logged and counted only.
func (s *Service) incident(ctx context.Context, event audit.AuditEvent, keys attemptKeys, d models.RateLimitDecision) {
	if !s.limits.LogIncidents || s.auditSink == nil {
		return
	}
	eventContext := map[string]any{
		observability.KeyIdentifier:         keys.identifier,
		observability.KeyIP:                 keys.ip,
		observability.KeyIPAttempts:         d.IPAttempts,
		observability.KeyIdentifierAttempts: d.IdentifierAttempts,
		observability.KeyRetryAfterSeconds:  d.RetryAfterSeconds,
	}
	if d.Locked {
		eventContext[observability.KeyLockoutSeconds] = d.LockoutSeconds
	}

	err := s.auditSink.Log(ctx, string(event), audit.EntityAuthentication, "", "", eventContext)
	if err == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementAuditFailures()
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "security audit emission failed",
			"event", string(event),
			"error", err,
		)
	}
}

func (s *Service) storeError(ctx context.Context, op string, err error, msg string) error {
	if s.metrics != nil {
		s.metrics.IncrementStoreErrors(op)
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "login limit store failure",
			"operation", op,
			"error", err,
		)
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, fmt.Sprintf("login limiter: %s", msg))
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name)
}

func (s *Service) finish(span trace.Span, op string, d models.RateLimitDecision, err error) {
	if err == nil {
		span.SetAttributes(
			attribute.String("login.outcome", d.Outcome()),
			attribute.Bool("login.captcha_required", d.CaptchaRequired),
			attribute.Int("login.retry_after_seconds", d.RetryAfterSeconds),
		)
		if s.metrics != nil {
			s.metrics.ObserveDecision(op, d.Outcome())
		}
	}
	s.endSpan(span, err)
}

func (s *Service) endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
