package httptransport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"bruteguard/internal/platform/health"
	platformmetrics "bruteguard/internal/platform/metrics"
	"bruteguard/internal/ratelimit/admin"
	ratelimitconfig "bruteguard/internal/ratelimit/config"
	"bruteguard/internal/ratelimit/handler"
	"bruteguard/internal/ratelimit/models"
	lockoutsvc "bruteguard/internal/ratelimit/service/lockout"
	"bruteguard/internal/ratelimit/service/loginlimit"
	lockoutstore "bruteguard/internal/ratelimit/store/lockout"
	"bruteguard/internal/ratelimit/store/window"
	adminmw "bruteguard/pkg/platform/middleware/admin"
)

// =============================================================================
// Router Test Suite
// =============================================================================
// Justification: the router is the only place the middleware stack, the
// decision API and the admin guard meet. These tests drive the in-memory
// stack end to end through it.

const adminToken = "router-admin-token"

type RouterSuite struct {
	suite.Suite
	router http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	counters := window.NewInMemoryStore()
	lockouts, err := lockoutsvc.New(window.NewInMemoryStore(), lockoutstore.NewInMemoryIndex())
	s.Require().NoError(err)

	limiter, err := loginlimit.New(counters, lockouts, ratelimitconfig.DefaultLoginLimits())
	s.Require().NoError(err)
	adminSvc, err := admin.New(limiter)
	s.Require().NoError(err)

	s.router = NewRouter(RouterDeps{
		Handler:      handler.New(limiter, adminSvc, nil),
		Health:       health.New("test"),
		Registry:     platformmetrics.NewRegistry("test"),
		AdminToken:   adminToken,
		MaxBodyBytes: 1 << 16,
	})
}

func (s *RouterSuite) do(method, path, body string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set(adminmw.HeaderToken, adminToken)
		req.Header.Set(adminmw.HeaderActorID, "ops-1")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

const attempt = `{"identifier":"alice@example.com","ip":"203.0.113.10"}`

func (s *RouterSuite) TestOperationalEndpoints() {
	s.Run("liveness", func() {
		rec := s.do(http.MethodGet, "/health/live", "", false)
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("metrics", func() {
		rec := s.do(http.MethodGet, "/metrics", "", false)
		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), "bruteguard_build_info")
	})

	s.Run("request id is echoed", func() {
		rec := s.do(http.MethodGet, "/health/live", "", false)
		s.NotEmpty(rec.Header().Get("X-Request-ID"))
	})
}

func (s *RouterSuite) TestLockoutLifecycle() {
	s.Run("first check is allowed", func() {
		rec := s.do(http.MethodPost, "/v1/login-attempts/check", attempt, false)
		s.Equal(http.StatusOK, rec.Code)
	})

	var last *httptest.ResponseRecorder
	for range ratelimitconfig.DefaultLoginLimits().LockoutThreshold {
		last = s.do(http.MethodPost, "/v1/login-attempts/failure", attempt, false)
	}

	s.Run("threshold failure locks the identifier", func() {
		s.Equal(http.StatusTooManyRequests, last.Code)
		s.Equal("900", last.Header().Get("Retry-After"))
	})

	s.Run("status reports the lockout", func() {
		rec := s.do(http.MethodGet, "/admin/v1/lockouts/alice@example.com", "", true)
		s.Require().Equal(http.StatusOK, rec.Code)
		var status models.LockoutStatus
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &status))
		s.True(status.Locked)
	})

	s.Run("admin clear unlocks", func() {
		rec := s.do(http.MethodDelete, "/admin/v1/lockouts/alice@example.com", "", true)
		s.Equal(http.StatusNoContent, rec.Code)

		rec = s.do(http.MethodPost, "/v1/login-attempts/check", attempt, false)
		s.Equal(http.StatusOK, rec.Code)
	})
}

func (s *RouterSuite) TestAdminRequiresToken() {
	rec := s.do(http.MethodDelete, "/admin/v1/rate-limits/ip/203.0.113.10", "", false)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodDelete, "/admin/v1/rate-limits/ip/203.0.113.10", "", true)
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *RouterSuite) TestRejectsNonJSONBody() {
	req := httptest.NewRequest(http.MethodPost, "/v1/login-attempts/check", strings.NewReader("identifier=alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusUnsupportedMediaType, rec.Code)
}
