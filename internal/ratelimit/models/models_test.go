package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowCounter_Expiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := WindowCounter{Key: "ip:1.2.3.4", Count: 3, ExpiresAt: now.Add(30 * time.Second)}

	assert.False(t, c.IsExpired(now))
	assert.Equal(t, 30*time.Second, c.Remaining(now))

	assert.True(t, c.IsExpired(now.Add(30*time.Second)), "expiry instant itself is expired")
	assert.Zero(t, c.Remaining(now.Add(time.Minute)))
}

func TestCeilSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{60 * time.Second, 60},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CeilSeconds(tt.in), "CeilSeconds(%s)", tt.in)
	}
}

func TestLockedDecision(t *testing.T) {
	d := LockedDecision(900)

	assert.False(t, d.Allowed)
	assert.True(t, d.Locked)
	assert.True(t, d.Cooldown)
	assert.True(t, d.CaptchaRequired)
	assert.Equal(t, 900, d.RetryAfterSeconds)
	assert.Equal(t, 900, d.LockoutSeconds)
	assert.Zero(t, d.IPAttempts)
	assert.Zero(t, d.IdentifierAttempts)
	assert.Equal(t, OutcomeLocked, d.Outcome())
	assert.Equal(t, StateLocked, d.State())
}

func TestDecisionOutcome(t *testing.T) {
	assert.Equal(t, OutcomeAllowed, RateLimitDecision{Allowed: true}.Outcome())
	assert.Equal(t, StateOpen, RateLimitDecision{Allowed: true, CaptchaRequired: true}.State())
	assert.Equal(t, OutcomeThrottled, RateLimitDecision{Cooldown: true, RetryAfterSeconds: 12}.Outcome())
	assert.Equal(t, StateThrottled, RateLimitDecision{Cooldown: true}.State())
}
