package auth

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is the store-level miss. The service never surfaces it on
// the login path; unknown user and wrong password both read as invalid
// credentials.
var ErrUserNotFound = errors.New("user not found")

// UserStore is the external collaborator holding credential records. Every
// mutating operation must be a single atomic statement against the
// underlying record: the core never read-modify-writes a counter across two
// round-trips, so concurrent failed logins cannot lose updates.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByID(ctx context.Context, id int64) (User, error)
	Create(ctx context.Context, user User) (User, error)
	// UpdatePassword sets the new hash and bumps the password epoch in one
	// transition; callers must never observe one without the other.
	UpdatePassword(ctx context.Context, id int64, passwordHash string, changedAt time.Time) error
	// IncrementFailedAttempts adds one to the counter and returns the new
	// value.
	IncrementFailedAttempts(ctx context.Context, username string) (int, error)
	ResetFailedAttempts(ctx context.Context, username string) error
	Lock(ctx context.Context, username string, until time.Time) error
	Unlock(ctx context.Context, username string) error
	UpdateLastLogin(ctx context.Context, username string, at time.Time) error
}
