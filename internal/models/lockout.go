package models

import (
	"math"
	"time"
)

// LockoutState is the persisted failed-attempt record for one identity.
// LockedUntil is nil exactly when the identity is unlocked.
type LockoutState struct {
	SubjectID      string     `json:"subject_id"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	LastFailedAt   *time.Time `json:"last_failed_at,omitempty"`
}

// LockedAt reports whether the state is locked at now.
func (s *LockoutState) LockedAt(now time.Time) bool {
	return s != nil && s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// LockoutStatus is what checkLockout and incrementFailedAttempts report.
type LockoutStatus struct {
	Locked           bool       `json:"locked"`
	FailedAttempts   int        `json:"failed_attempts"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	RemainingMinutes int        `json:"remaining_minutes,omitempty"`
}

// RemainingMinutes rounds the time left until until up to whole minutes.
func RemainingMinutes(until, now time.Time) int {
	if !now.Before(until) {
		return 0
	}

	return int(math.Ceil(until.Sub(now).Minutes()))
}
