package loginlimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"bruteguard/internal/ratelimit/config"
	"bruteguard/internal/ratelimit/metrics"
	"bruteguard/internal/ratelimit/models"
	"bruteguard/internal/ratelimit/service/loginlimit/mocks"
	dErrors "bruteguard/pkg/domain-errors"
	"bruteguard/pkg/requestcontext"
	"bruteguard/pkg/testutil"
)

// =============================================================================
// Failure Path Test Suite
// =============================================================================
// Justification: store outages must fail closed with CodeUnavailable and audit
// outages must never change a decision. Mocks make each failing call explicit.

var errBackend = errors.New("connection refused")

type FailurePathSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	counters *mocks.MockCounterStore
	lockouts *mocks.MockLockoutStore
	sink     *mocks.MockAuditSink
	metrics  *metrics.Metrics
	service  *Service
	ctx      context.Context
}

func TestFailurePathSuite(t *testing.T) {
	suite.Run(t, new(FailurePathSuite))
}

func (s *FailurePathSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.counters = mocks.NewMockCounterStore(s.ctrl)
	s.lockouts = mocks.NewMockLockoutStore(s.ctrl)
	s.sink = mocks.NewMockAuditSink(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.ctx = requestcontext.WithTime(context.Background(), testutil.TestTime)

	var err error
	s.service, err = New(s.counters, s.lockouts, config.DefaultLoginLimits(),
		WithAuditSink(s.sink),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
}

func (s *FailurePathSuite) TearDownTest() {
	s.ctrl.Finish()
}

const (
	ipKey         = "ip:203.0.113.10"
	identifierKey = "identifier:alice@example.com"
)

func (s *FailurePathSuite) assertUnavailable(err error, op string) {
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.ErrorIs(err, errBackend)
	s.Equal(float64(1), promtestutil.ToFloat64(s.metrics.LoginStoreErrorsTotal.WithLabelValues(op)))
}

func (s *FailurePathSuite) TestCheckFailsClosed() {
	s.Run("lockout read", func() {
		s.SetupTest()
		s.lockouts.EXPECT().Remaining(gomock.Any(), gomock.Any()).Return(time.Duration(0), errBackend)

		d, err := s.service.Check(s.ctx, testutil.Fixtures.Alice, testutil.Fixtures.IP1)
		s.assertUnavailable(err, opCheck)
		s.False(d.Allowed)
	})

	s.Run("counter read", func() {
		s.SetupTest()
		s.lockouts.EXPECT().Remaining(gomock.Any(), gomock.Any()).Return(time.Duration(0), nil)
		s.counters.EXPECT().Peek(gomock.Any(), ipKey).Return(0, errBackend)

		d, err := s.service.Check(s.ctx, testutil.Fixtures.Alice, testutil.Fixtures.IP1)
		s.assertUnavailable(err, opCheck)
		s.False(d.Allowed)
	})

	s.Run("recent lockout query", func() {
		s.SetupTest()
		s.lockouts.EXPECT().Remaining(gomock.Any(), gomock.Any()).Return(time.Duration(0), nil)
		s.counters.EXPECT().Peek(gomock.Any(), ipKey).Return(0, nil)
		s.counters.EXPECT().Peek(gomock.Any(), identifierKey).Return(0, nil)
		s.lockouts.EXPECT().AnyExpiringWithin(gomock.Any(), 10*time.Minute).Return(false, errBackend)

		_, err := s.service.Check(s.ctx, testutil.Fixtures.Alice, testutil.Fixtures.IP1)
		s.assertUnavailable(err, opCheck)
	})
}

func (s *FailurePathSuite) TestRecordFailureFailsClosed() {
	s.Run("increment", func() {
		s.SetupTest()
		s.lockouts.EXPECT().Remaining(gomock.Any(), gomock.Any()).Return(time.Duration(0), nil)
		s.counters.EXPECT().Increment(gomock.Any(), ipKey, time.Minute).Return(models.WindowCounter{}, errBackend)

		_, err := s.service.RecordFailure(s.ctx, testutil.Fixtures.Alice, testutil.Fixtures.IP1)
		s.assertUnavailable(err, opFailure)
	})

	s.Run("lockout write", func() {
		s.SetupTest()
		expires := testutil.TestTime.Add(time.Minute)
		s.lockouts.EXPECT().Remaining(gomock.Any(), gomock.Any()).Return(time.Duration(0), nil)
		s.counters.EXPECT().Increment(gomock.Any(), ipKey, time.Minute).
			Return(models.WindowCounter{Key: ipKey, Count: 8, ExpiresAt: expires}, nil)
		s.counters.EXPECT().Increment(gomock.Any(), identifierKey, time.Minute).
			Return(models.WindowCounter{Key: identifierKey, Count: 8, ExpiresAt: expires}, nil)
		s.lockouts.EXPECT().Set(gomock.Any(), gomock.Any(), 15*time.Minute).Return(errBackend)

		_, err := s.service.RecordFailure(s.ctx, testutil.Fixtures.Alice, testutil.Fixtures.IP1)
		s.assertUnavailable(err, opFailure)
	})
}

func (s *FailurePathSuite) TestRecordSuccessPropagatesErrors() {
	s.counters.EXPECT().Delete(gomock.Any(), ipKey).Return(nil)
	s.counters.EXPECT().Delete(gomock.Any(), identifierKey).Return(nil)
	s.lockouts.EXPECT().Clear(gomock.Any(), gomock.Any()).Return(errBackend)

	err := s.service.RecordSuccess(s.ctx, testutil.Fixtures.Alice, testutil.Fixtures.IP1)
	s.assertUnavailable(err, opSuccess)
}

func (s *FailurePathSuite) TestAuditFailureDoesNotChangeDecision() {
	expires := testutil.TestTime.Add(time.Minute)
	s.lockouts.EXPECT().Remaining(gomock.Any(), gomock.Any()).Return(time.Duration(0), nil)
	s.counters.EXPECT().Increment(gomock.Any(), ipKey, time.Minute).
		Return(models.WindowCounter{Key: ipKey, Count: 8, ExpiresAt: expires}, nil)
	s.counters.EXPECT().Increment(gomock.Any(), identifierKey, time.Minute).
		Return(models.WindowCounter{Key: identifierKey, Count: 8, ExpiresAt: expires}, nil)
	s.lockouts.EXPECT().Set(gomock.Any(), gomock.Any(), 15*time.Minute).Return(nil)
	s.counters.EXPECT().Delete(gomock.Any(), identifierKey).Return(nil)
	s.sink.EXPECT().
		Log(gomock.Any(), "auth.lockout", "authentication", "", "", gomock.Any()).
		Return(errors.New("audit sink down"))
	s.sink.EXPECT().
		Log(gomock.Any(), "auth.captcha_challenge", "authentication", "", "", gomock.Any()).
		Return(errors.New("audit sink down"))

	d, err := s.service.RecordFailure(s.ctx, testutil.Fixtures.Alice, testutil.Fixtures.IP1)
	s.Require().NoError(err)
	s.True(d.Locked)
	s.Equal(900, d.LockoutSeconds)
	s.True(d.CaptchaRequired)
	s.Equal(float64(2), promtestutil.ToFloat64(s.metrics.LoginAuditFailuresTotal))
}

func (s *FailurePathSuite) TestLockedShortCircuitsStores() {
	s.lockouts.EXPECT().Remaining(gomock.Any(), gomock.Any()).Return(90*time.Second+time.Millisecond, nil)

	d, err := s.service.RecordFailure(s.ctx, testutil.Fixtures.Alice, testutil.Fixtures.IP1)
	s.Require().NoError(err)
	s.Equal(models.LockedDecision(91), d)
}

func (s *FailurePathSuite) TestLockoutKeyIsIdentifierHash() {
	hasher := models.NewIdentifierHasher("")
	s.lockouts.EXPECT().Remaining(gomock.Any(), hasher.Hash(" Alice@Example.com")).Return(time.Duration(0), nil)
	s.counters.EXPECT().Peek(gomock.Any(), ipKey).Return(0, nil)
	s.counters.EXPECT().Peek(gomock.Any(), identifierKey).Return(0, nil)
	s.lockouts.EXPECT().AnyExpiringWithin(gomock.Any(), 10*time.Minute).Return(false, nil)

	d, err := s.service.Check(s.ctx, " Alice@Example.com", testutil.Fixtures.IP1)
	s.Require().NoError(err)
	s.True(d.Allowed)
}
