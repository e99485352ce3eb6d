package auth

import "errors"

// Domain outcomes. Handlers translate these into the error codes clients
// switch on; anything else that escapes the service is an internal error.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already taken")
	// ErrPasswordChanged marks a structurally valid token whose password
	// epoch no longer matches the user record. The client must log in again.
	ErrPasswordChanged = errors.New("password changed since token was issued")
	// ErrNotAuthenticated is returned when no principal is present in the
	// context. Background tasks run outside a request context and must be
	// able to tolerate it.
	ErrNotAuthenticated = errors.New("no authenticated principal")
)

// BadCredentialsError carries how many attempts remain before lockout. It
// matches ErrInvalidCredentials under errors.Is so callers that do not care
// about the count keep working.
type BadCredentialsError struct {
	RemainingAttempts int
}

func (e BadCredentialsError) Error() string {
	return ErrInvalidCredentials.Error()
}

func (e BadCredentialsError) Unwrap() error {
	return ErrInvalidCredentials
}
