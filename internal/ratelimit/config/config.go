package config

import (
	"time"

	dErrors "bruteguard/pkg/domain-errors"
	"bruteguard/pkg/validation"
)

// LoginLimits is the brute-force policy for login attempts. Zero disables the
// feature for LockoutThreshold and CaptchaAfterAttempts.
type LoginLimits struct {
	DecaySeconds             int  `validate:"gt=0"`
	MaxAttemptsPerIP         int  `validate:"gt=0"`
	MaxAttemptsPerIdentifier int  `validate:"gt=0"`
	LockoutThreshold         int  `validate:"gte=0"`
	LockoutMinutes           int  `validate:"gte=0"`
	CaptchaAfterAttempts     int  `validate:"gte=0"`
	CaptchaCooldownMinutes   int  `validate:"gte=0"`
	LogIncidents             bool
}

// DefaultLoginLimits returns the production defaults.
func DefaultLoginLimits() LoginLimits {
	return LoginLimits{
		DecaySeconds:             60,
		MaxAttemptsPerIP:         25,
		MaxAttemptsPerIdentifier: 10,
		LockoutThreshold:         8,
		LockoutMinutes:           15,
		CaptchaAfterAttempts:     4,
		CaptchaCooldownMinutes:   10,
		LogIncidents:             true,
	}
}

// Validate rejects limits that cannot be enforced.
func (l LoginLimits) Validate() error {
	if err := validation.Validate(l); err != nil {
		return err
	}
	if l.LockoutThreshold > 0 && l.LockoutMinutes == 0 {
		return dErrors.New(dErrors.CodeValidation, "lockout_minutes must be greater than 0 when lockout_threshold is set")
	}
	return nil
}

func (l LoginLimits) Decay() time.Duration {
	return time.Duration(l.DecaySeconds) * time.Second
}

func (l LoginLimits) LockoutDuration() time.Duration {
	return time.Duration(l.LockoutMinutes) * time.Minute
}

func (l LoginLimits) CaptchaCooldown() time.Duration {
	return time.Duration(l.CaptchaCooldownMinutes) * time.Minute
}

// LockoutEnabled reports whether failures can escalate into a hard lockout.
func (l LoginLimits) LockoutEnabled() bool {
	return l.LockoutThreshold > 0
}

func (l LoginLimits) CaptchaEnabled() bool {
	return l.CaptchaAfterAttempts > 0
}
