package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"bruteguard/internal/ratelimit/models"
	"bruteguard/pkg/requestcontext"
)

// =============================================================================
// Login Guard Middleware Suite
// =============================================================================
// Justification: the guard is the last line before credential verification.
// Denied, locked and errored checks must never reach the login handler.

type stubChecker struct {
	decision   models.RateLimitDecision
	err        error
	identifier string
	ip         string
}

func (c *stubChecker) Check(_ context.Context, identifier, ip string) (models.RateLimitDecision, error) {
	c.identifier, c.ip = identifier, ip
	return c.decision, c.err
}

type stubVerifier struct {
	valid string
	err   error
}

func (v stubVerifier) Verify(_ context.Context, token, _ string) (bool, error) {
	if v.err != nil {
		return false, v.err
	}
	return token != "" && token == v.valid, nil
}

type MiddlewareSuite struct {
	suite.Suite
	checker *stubChecker
	reached bool
	body    string
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareSuite))
}

func (s *MiddlewareSuite) SetupTest() {
	s.checker = &stubChecker{decision: models.RateLimitDecision{Allowed: true}}
	s.reached = false
	s.body = ""
}

func (s *MiddlewareSuite) serve(m *Middleware, captchaToken string) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.reached = true
		b, _ := io.ReadAll(r.Body)
		s.body = string(b)
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"email":"Alice@Example.com","password":"hunter2"}`))
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), "203.0.113.10", "test"))
	if captchaToken != "" {
		req.Header.Set(HeaderCaptchaToken, captchaToken)
	}
	rec := httptest.NewRecorder()
	m.RateLimitAuth(IdentifierFromJSONField("email"))(next).ServeHTTP(rec, req)
	return rec
}

func (s *MiddlewareSuite) TestAllowedPassesThrough() {
	rec := s.serve(New(s.checker), "")

	s.True(s.reached)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("Alice@Example.com", s.checker.identifier)
	s.Equal("203.0.113.10", s.checker.ip)
	s.Contains(s.body, "hunter2", "login handler still sees the full body")
}

func (s *MiddlewareSuite) TestDeniedReturns429() {
	s.Run("throttled", func() {
		s.SetupTest()
		s.checker.decision = models.RateLimitDecision{Cooldown: true, RetryAfterSeconds: 30, IdentifierAttempts: 10}

		rec := s.serve(New(s.checker), "")

		s.False(s.reached)
		s.Equal(http.StatusTooManyRequests, rec.Code)
		s.Equal("30", rec.Header().Get("Retry-After"))
		s.Contains(rec.Body.String(), `"retry_after_seconds":30`)
	})

	s.Run("locked", func() {
		s.SetupTest()
		s.checker.decision = models.LockedDecision(900)

		rec := s.serve(New(s.checker), "")

		s.False(s.reached)
		s.Equal(http.StatusTooManyRequests, rec.Code)
		s.Equal("900", rec.Header().Get("Retry-After"))
		s.Contains(rec.Body.String(), `"locked":true`)
	})
}

func (s *MiddlewareSuite) TestStoreErrorFailsClosed() {
	s.checker.err = errors.New("login limiter: read counter")

	rec := s.serve(New(s.checker), "")

	s.False(s.reached)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Contains(rec.Body.String(), `"allowed":false`)
}

func (s *MiddlewareSuite) TestCaptcha() {
	captcha := models.RateLimitDecision{Allowed: true, CaptchaRequired: true}

	s.Run("no verifier configured only reports", func() {
		s.SetupTest()
		s.checker.decision = captcha
		s.serve(New(s.checker), "")
		s.True(s.reached)
	})

	s.Run("missing token is 403", func() {
		s.SetupTest()
		s.checker.decision = captcha
		rec := s.serve(New(s.checker, WithCaptchaVerifier(stubVerifier{valid: "ok"})), "")
		s.False(s.reached)
		s.Equal(http.StatusForbidden, rec.Code)
		s.Contains(rec.Body.String(), `"error":"captcha_required"`)
	})

	s.Run("valid token passes", func() {
		s.SetupTest()
		s.checker.decision = captcha
		s.serve(New(s.checker, WithCaptchaVerifier(stubVerifier{valid: "ok"})), "ok")
		s.True(s.reached)
	})

	s.Run("verifier outage fails closed", func() {
		s.SetupTest()
		s.checker.decision = captcha
		rec := s.serve(New(s.checker, WithCaptchaVerifier(stubVerifier{err: errors.New("timeout")})), "ok")
		s.False(s.reached)
		s.Equal(http.StatusServiceUnavailable, rec.Code)
	})

	s.Run("verifier not consulted when captcha not required", func() {
		s.SetupTest()
		s.serve(New(s.checker, WithCaptchaVerifier(stubVerifier{err: errors.New("unused")})), "")
		s.True(s.reached)
	})
}

func (s *MiddlewareSuite) TestDisabled() {
	s.checker.err = errors.New("never called")
	s.serve(New(s.checker, WithDisabled(true)), "")
	s.True(s.reached)
	s.Empty(s.checker.identifier)
}

func (s *MiddlewareSuite) TestIdentifierExtraction() {
	s.Run("json field missing is empty", func() {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"password":"x"}`))
		id, err := IdentifierFromJSONField("email")(req)
		s.Require().NoError(err)
		s.Empty(id)
	})

	s.Run("malformed json is a 400", func() {
		next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { s.Fail("reached") })
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":`))
		rec := httptest.NewRecorder()
		New(s.checker).RateLimitAuth(IdentifierFromJSONField("email"))(next).ServeHTTP(rec, req)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("oversized body is rejected", func() {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"`+strings.Repeat("a", maxPeekBytes)+`"}`))
		_, err := IdentifierFromJSONField("email")(req)
		s.Error(err)
	})

	s.Run("form field", func() {
		form := url.Values{"username": {"carol"}, "password": {"x"}}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		id, err := IdentifierFromForm("username")(req)
		s.Require().NoError(err)
		s.Equal("carol", id)
	})
}
