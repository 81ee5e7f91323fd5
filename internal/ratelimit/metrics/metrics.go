package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LoginDecisionsTotal         *prometheus.CounterVec
	LoginLockoutsTotal          prometheus.Counter
	LoginCaptchaChallengesTotal prometheus.Counter
	LoginStoreErrorsTotal       *prometheus.CounterVec
	LoginAuditFailuresTotal     prometheus.Counter
	CleanupRunsTotal            *prometheus.CounterVec
	CleanupDurationSeconds      prometheus.Histogram
	CleanupCountersPurgedTotal  prometheus.Counter
	CleanupLockoutsPrunedTotal  prometheus.Counter
}

// New registers the login limiter metrics on reg. Tests pass a fresh
// prometheus.NewRegistry(); the server passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoginDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bruteguard_login_decisions_total",
			Help: "Login limiter decisions by operation and outcome",
		}, []string{"operation", "outcome"}),
		LoginLockoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bruteguard_login_lockouts_total",
			Help: "Total number of identifier lockouts triggered",
		}),
		LoginCaptchaChallengesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bruteguard_login_captcha_challenges_total",
			Help: "Total number of failures answered with a CAPTCHA requirement",
		}),
		LoginStoreErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bruteguard_login_store_errors_total",
			Help: "Counter or lockout store failures by operation; the request failed closed",
		}, []string{"operation"}),
		LoginAuditFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bruteguard_login_audit_failures_total",
			Help: "Security audit events that could not be emitted",
		}),
		CleanupRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bruteguard_login_cleanup_runs_total",
			Help: "Total number of cleanup runs",
		}, []string{"status"}),
		CleanupDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "bruteguard_login_cleanup_duration_seconds",
			Help: "Duration of cleanup runs in seconds",
		}),
		CleanupCountersPurgedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bruteguard_login_cleanup_counters_purged_total",
			Help: "Expired counter records removed by the cleanup worker",
		}),
		CleanupLockoutsPrunedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bruteguard_login_cleanup_lockouts_pruned_total",
			Help: "Lockout index entries pruned by the cleanup worker",
		}),
	}
}

func (m *Metrics) ObserveDecision(operation, outcome string) {
	m.LoginDecisionsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) IncrementLockouts() {
	m.LoginLockoutsTotal.Inc()
}

func (m *Metrics) IncrementCaptchaChallenges() {
	m.LoginCaptchaChallengesTotal.Inc()
}

func (m *Metrics) IncrementStoreErrors(operation string) {
	m.LoginStoreErrorsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementAuditFailures() {
	m.LoginAuditFailuresTotal.Inc()
}

func (m *Metrics) IncrementCleanupRuns(status string) {
	m.CleanupRunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveCleanupDuration(durationSeconds float64) {
	m.CleanupDurationSeconds.Observe(durationSeconds)
}

func (m *Metrics) AddCleanupPurged(counters, lockouts int) {
	m.CleanupCountersPurgedTotal.Add(float64(counters))
	m.CleanupLockoutsPrunedTotal.Add(float64(lockouts))
}
