package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ratelimitconfig "bruteguard/internal/ratelimit/config"
	dErrors "bruteguard/pkg/domain-errors"
)

func lookupFrom(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Server.CleanupInterval)
	assert.Equal(t, ratelimitconfig.DefaultLoginLimits(), cfg.Limits)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, AuditSinkLog, cfg.Audit.Sink)
	assert.Equal(t, "security.audit", cfg.Audit.Topic)
	assert.False(t, cfg.NeedsPostgres())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		"LOGIN_DECAY_SECONDS":            "120",
		"LOGIN_LOCKOUT_THRESHOLD":        "0",
		"LOGIN_LOCKOUT_MINUTES":          "0",
		"LOGIN_CAPTCHA_AFTER_ATTEMPTS":   "0",
		"LOGIN_LOG_INCIDENTS":            "false",
		"STORE_BACKEND":                  "Postgres",
		"DATABASE_URL":                   "postgres://localhost/bruteguard",
		"AUDIT_SINK":                     "kafka",
		"KAFKA_BROKERS":                  "kafka-1:9092,kafka-2:9092",
		"CLEANUP_INTERVAL":               "30s",
		"LOGIN_CAPTCHA_COOLDOWN_MINUTES": "5",
	}))
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Limits.DecaySeconds)
	assert.False(t, cfg.Limits.LockoutEnabled())
	assert.False(t, cfg.Limits.CaptchaEnabled())
	assert.False(t, cfg.Limits.LogIncidents)
	assert.Equal(t, 5, cfg.Limits.CaptchaCooldownMinutes)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 30*time.Second, cfg.Server.CleanupInterval)
	assert.True(t, cfg.NeedsPostgres())
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"malformed integer":               {"LOGIN_MAX_ATTEMPTS_PER_IP": "lots"},
		"malformed duration":              {"CLEANUP_INTERVAL": "5 minutes"},
		"malformed boolean":               {"LOGIN_LOG_INCIDENTS": "sometimes"},
		"zero decay":                      {"LOGIN_DECAY_SECONDS": "0"},
		"lockout without duration":        {"LOGIN_LOCKOUT_MINUTES": "0"},
		"unknown backend":                 {"STORE_BACKEND": "etcd"},
		"redis without url":               {"STORE_BACKEND": "redis"},
		"postgres audit without db":       {"AUDIT_SINK": "postgres"},
		"kafka audit without brokers":     {"AUDIT_SINK": "kafka"},
		"unknown audit sink":              {"AUDIT_SINK": "syslog"},
		"non-positive cleanup interval":   {"CLEANUP_INTERVAL": "-1s"},
		"negative captcha after attempts": {"LOGIN_CAPTCHA_AFTER_ATTEMPTS": "-1"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(lookupFrom(vars))
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), err.Error())
		})
	}
}
