package models

import "time"

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 30 * time.Minute
)

type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts:  DefaultMaxFailedAttempts,
		LockDuration: DefaultLockoutDuration,
	}
}

// LockoutState is the persisted failed-attempt counter and lock expiry.
type LockoutState struct {
	FailedAttempts int
	LockUntil      *time.Time
}

func (s LockoutState) Locked(now time.Time) bool {
	return s.LockUntil != nil && s.LockUntil.After(now)
}

// AttemptsRemaining before the policy locks the account.
func (s LockoutState) AttemptsRemaining(p LockoutPolicy) int {
	if s.LockUntil != nil {
		return 0
	}
	if n := p.MaxAttempts - s.FailedAttempts; n > 0 {
		return n
	}
	return 0
}

// NextLockout applies one failed attempt to s. A state that is still locked
// is returned unchanged. An expired lock restarts the count at one.
func NextLockout(s LockoutState, p LockoutPolicy, now time.Time) LockoutState {
	if s.Locked(now) {
		return s
	}

	count := s.FailedAttempts
	if s.LockUntil != nil {
		count = 0
	}
	count++

	if count >= p.MaxAttempts {
		until := now.Add(p.LockDuration)
		return LockoutState{FailedAttempts: count, LockUntil: &until}
	}
	return LockoutState{FailedAttempts: count}
}

// Equal compares counter and expiry; used as the compare-and-set guard.
func (s LockoutState) Equal(o LockoutState) bool {
	if s.FailedAttempts != o.FailedAttempts {
		return false
	}
	if s.LockUntil == nil || o.LockUntil == nil {
		return s.LockUntil == nil && o.LockUntil == nil
	}
	return s.LockUntil.Equal(*o.LockUntil)
}
