package models

import (
	"time"
)

// WindowCounter is the stored state behind one fixed-window rate limit key.
// A counter whose ExpiresAt has passed is logically absent.
type WindowCounter struct {
	Key       string    `json:"key"`
	Count     int       `json:"count"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the window has elapsed at now.
func (c WindowCounter) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Remaining returns the time left in the window, zero once expired.
func (c WindowCounter) Remaining(now time.Time) time.Duration {
	if c.IsExpired(now) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// RateLimitDecision is the complete answer handed back to the login flow.
type RateLimitDecision struct {
	Allowed            bool `json:"allowed"`
	Locked             bool `json:"locked"`
	Cooldown           bool `json:"cooldown"` // any non-zero wait, throttle or lockout
	CaptchaRequired    bool `json:"captcha_required"`
	RetryAfterSeconds  int  `json:"retry_after_seconds"`
	LockoutSeconds     int  `json:"lockout_seconds"` // 0 unless Locked
	IPAttempts         int  `json:"ip_attempts"`
	IdentifierAttempts int  `json:"identifier_attempts"`
}

// LockedDecision is returned whenever an active lockout short-circuits evaluation.
// Counters are reported as zero: a locked identifier's windows are frozen.
func LockedDecision(remainingSeconds int) RateLimitDecision {
	return RateLimitDecision{
		Allowed:           false,
		Locked:            true,
		Cooldown:          true,
		CaptchaRequired:   true,
		RetryAfterSeconds: remainingSeconds,
		LockoutSeconds:    remainingSeconds,
	}
}

const (
	OutcomeAllowed   = "allowed"
	OutcomeThrottled = "throttled"
	OutcomeLocked    = "locked"
)

// Outcome classifies the decision for metrics and logs.
func (d RateLimitDecision) Outcome() string {
	switch {
	case d.Locked:
		return OutcomeLocked
	case !d.Allowed:
		return OutcomeThrottled
	default:
		return OutcomeAllowed
	}
}

// LoginState is the per-identifier position in the OPEN → THROTTLED → LOCKED machine.
type LoginState string

const (
	StateOpen      LoginState = "open"
	StateThrottled LoginState = "throttled"
	StateLocked    LoginState = "locked"
)

// State derives the identifier's state from a decision.
func (d RateLimitDecision) State() LoginState {
	switch d.Outcome() {
	case OutcomeLocked:
		return StateLocked
	case OutcomeThrottled:
		return StateThrottled
	default:
		return StateOpen
	}
}

// LockoutStatus is the admin view of one identifier.
type LockoutStatus struct {
	Identifier         string `json:"identifier"`
	Locked             bool   `json:"locked"`
	RemainingSeconds   int    `json:"remaining_seconds"`
	IdentifierAttempts int    `json:"identifier_attempts"`
}

// CeilSeconds converts a duration to whole seconds, rounding up so that any
// non-zero wait is reported as at least one second.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
