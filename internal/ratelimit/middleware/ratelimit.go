// Package middleware guards in-process login handlers with the login limiter.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"bruteguard/internal/platform/privacy"
	"bruteguard/internal/ratelimit/models"
	"bruteguard/pkg/platform/httputil"
	"bruteguard/pkg/requestcontext"
)

const (
	HeaderCaptchaToken = "X-Captcha-Token"

	// maxPeekBytes bounds how much of a login body is buffered to find the identifier.
	maxPeekBytes = 64 << 10
)

// Checker answers whether a login attempt may proceed.
type Checker interface {
	Check(ctx context.Context, identifier, ip string) (models.RateLimitDecision, error)
}

// CaptchaVerifier is a yes/no oracle for a challenge response.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, ip string) (bool, error)
}

// IdentifierFunc extracts the account identifier from a login request.
// The request body must remain readable by the next handler.
type IdentifierFunc func(r *http.Request) (string, error)

type Middleware struct {
	checker  Checker
	captcha  CaptchaVerifier
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// WithCaptchaVerifier enables captcha enforcement. Without a verifier,
// captchaRequired is only reported to the caller.
func WithCaptchaVerifier(v CaptchaVerifier) Option {
	return func(m *Middleware) {
		m.captcha = v
	}
}

// WithDisabled turns the middleware into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(checker Checker, opts ...Option) *Middleware {
	m := &Middleware{checker: checker}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// RateLimitAuth checks the attempt before the login handler runs. It does not
// record the outcome: the login handler reports failures and successes itself.
func (m *Middleware) RateLimitAuth(identifierFunc IdentifierFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			identifier, err := identifierFunc(r)
			if err != nil {
				httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
					Error:            "bad_request",
					ErrorDescription: "login identifier could not be read",
				})
				return
			}

			decision, err := m.checker.Check(ctx, identifier, ip)
			if err != nil {
				m.logger.ErrorContext(ctx, "login limit check failed",
					"error", err,
					"ip_prefix", privacy.AnonymizeIP(ip),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, models.RateLimitDecision{})
				return
			}

			if !decision.Allowed {
				WriteDecision(w, decision)
				return
			}

			if decision.CaptchaRequired && m.captcha != nil {
				ok, err := m.captcha.Verify(ctx, r.Header.Get(HeaderCaptchaToken), ip)
				if err != nil {
					m.logger.ErrorContext(ctx, "captcha verification failed",
						"error", err,
						"request_id", requestcontext.RequestID(ctx),
					)
					httputil.WriteJSON(w, http.StatusServiceUnavailable, models.RateLimitDecision{CaptchaRequired: true})
					return
				}
				if !ok {
					httputil.WriteJSON(w, http.StatusForbidden, captchaRequiredResponse{
						ErrorResponse: httputil.ErrorResponse{
							Error:            "captcha_required",
							ErrorDescription: "a valid " + HeaderCaptchaToken + " is required",
						},
						CaptchaRequired: true,
					})
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

type captchaRequiredResponse struct {
	httputil.ErrorResponse
	CaptchaRequired bool `json:"captcha_required"`
}

// WriteDecision writes a decision with 200 when allowed, or 429 and a
// Retry-After header when not.
func WriteDecision(w http.ResponseWriter, d models.RateLimitDecision) {
	if d.Allowed {
		httputil.WriteJSON(w, http.StatusOK, d)
		return
	}
	if d.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
	}
	httputil.WriteJSON(w, http.StatusTooManyRequests, d)
}

// IdentifierFromJSONField reads field from a JSON object body and restores the
// body for the next handler. Only field is unmarshalled.
func IdentifierFromJSONField(field string) IdentifierFunc {
	return func(r *http.Request) (string, error) {
		if r.Body == nil {
			return "", nil
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes+1))
		if err != nil {
			return "", err
		}
		if len(raw) > maxPeekBytes {
			return "", errors.New("login body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return "", err
		}
		value, ok := fields[field]
		if !ok {
			return "", nil
		}
		var identifier string
		if err := json.Unmarshal(value, &identifier); err != nil {
			return "", err
		}
		return identifier, nil
	}
}

// IdentifierFromForm reads field from a form-encoded body.
func IdentifierFromForm(field string) IdentifierFunc {
	return func(r *http.Request) (string, error) {
		if err := r.ParseForm(); err != nil {
			return "", err
		}
		return r.PostForm.Get(field), nil
	}
}
