package lockout

import (
	"testing"
	"time"
)

func TestFailuresBelowThresholdStayActive(t *testing.T) {
	state := State{}
	for attempt := 1; attempt < Threshold; attempt++ {
		next, lockedNow := OnFailure(state)
		if lockedNow {
			t.Fatalf("attempt %d locked the account early", attempt)
		}
		if next.Locked() {
			t.Fatalf("attempt %d produced a locked state", attempt)
		}
		if next.FailedAttempts != attempt {
			t.Fatalf("failedAttempts = %d, want %d", next.FailedAttempts, attempt)
		}
		state = next
	}
}

func TestThresholdFailureLocks(t *testing.T) {
	state := State{FailedAttempts: Threshold - 1}

	next, lockedNow := OnFailure(state)
	if !lockedNow {
		t.Fatal("expected the threshold attempt to lock")
	}
	if !next.Locked() {
		t.Fatal("expected locked state")
	}
	if next.LockedUntil == nil || !next.LockedUntil.Equal(PermanentLock()) {
		t.Fatalf("lockedUntil = %v, want the permanent sentinel", next.LockedUntil)
	}
}

func TestLockIsPermanent(t *testing.T) {
	until := PermanentLock()
	state := State{FailedAttempts: Threshold, LockedUntil: &until}

	// Locked does not consult a clock; only Unlock clears the lock.
	if !state.Locked() {
		t.Fatal("expected locked")
	}
	if until.Before(time.Now().AddDate(1000, 0, 0)) {
		t.Fatalf("sentinel %v is not far-future", until)
	}
}

func TestOnSuccessResets(t *testing.T) {
	next := OnSuccess()
	if next.FailedAttempts != 0 || next.Locked() {
		t.Fatalf("OnSuccess() = %+v, want zero state", next)
	}
}

func TestUnlockResets(t *testing.T) {
	next := Unlock()
	if next.FailedAttempts != 0 || next.Locked() {
		t.Fatalf("Unlock() = %+v, want zero state", next)
	}
}

func TestRemaining(t *testing.T) {
	cases := []struct {
		attempts int
		want     int
	}{
		{0, 6},
		{1, 5},
		{5, 1},
		{6, 0},
		{9, 0},
	}
	for _, tc := range cases {
		got := State{FailedAttempts: tc.attempts}.Remaining()
		if got != tc.want {
			t.Errorf("Remaining(%d) = %d, want %d", tc.attempts, got, tc.want)
		}
	}
}
