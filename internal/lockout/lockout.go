// Package lockout holds the failed-login lockout state machine. It is pure
// decision logic over values the caller supplies; persisting the resulting
// state is the caller's responsibility.
package lockout

import "time"

// Threshold is the number of consecutive failed attempts that locks the
// account. Locked accounts stay locked until explicit admin unlock; there
// is no time-based auto-unlock.
const Threshold = 6

// permanentLock is the sentinel timestamp stored for a locked account.
var permanentLock = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

type State struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Locked reports whether the account is locked. The lock is permanent, so
// the current time is irrelevant.
func (s State) Locked() bool {
	return s.LockedUntil != nil
}

// Remaining returns how many more failed attempts the account can absorb
// before locking.
func (s State) Remaining() int {
	remaining := Threshold - s.FailedAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}

// OnFailure returns the state after one more failed attempt and whether
// this attempt crossed the lock threshold.
func OnFailure(s State) (State, bool) {
	next := State{
		FailedAttempts: s.FailedAttempts + 1,
		LockedUntil:    s.LockedUntil,
	}
	if next.FailedAttempts >= Threshold {
		until := permanentLock
		next.LockedUntil = &until
		return next, true
	}
	return next, false
}

// OnSuccess is the transition applied on successful authentication.
func OnSuccess() State {
	return State{}
}

// Unlock is the administrative transition. Idempotent.
func Unlock() State {
	return State{}
}

// PermanentLock returns the sentinel timestamp to persist for a locked
// account.
func PermanentLock() time.Time {
	return permanentLock
}
