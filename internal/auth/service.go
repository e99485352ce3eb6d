package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskman-server/internal/lockout"
	"taskman-server/internal/observability"
	"taskman-server/internal/token"
)

const defaultRole = "USER"

// Service orchestrates credential verification, token issuance, password
// change and account unlock. It composes the token codec, the lockout state
// machine and the external user store; all mutable state lives in the store.
type Service struct {
	store  UserStore
	codec  *token.Codec
	logger *observability.Logger
}

func NewService(store UserStore, codec *token.Codec, logger *observability.Logger) *Service {
	return &Service{store: store, codec: codec, logger: logger}
}

// Login verifies the credentials and returns a fresh token pair. Unknown
// users and wrong passwords both read as invalid credentials; a locked
// account rejects even the correct password.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return TokenPair{}, ErrInvalidCredentials
	}

	user, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, fmt.Errorf("load user: %w", err)
	}

	state := lockout.State{FailedAttempts: user.FailedAttempts, LockedUntil: user.LockedUntil}
	if state.Locked() {
		return TokenPair{}, ErrAccountLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return TokenPair{}, s.recordFailure(ctx, username, state)
	}

	if err := s.store.ResetFailedAttempts(ctx, username); err != nil {
		return TokenPair{}, fmt.Errorf("reset failed attempts: %w", err)
	}

	// Best effort: a failed timestamp update must not fail the login.
	if err := s.store.UpdateLastLogin(ctx, username, time.Now().UTC()); err != nil {
		s.logger.Error("update_last_login_failed", map[string]any{
			"username": username,
			"error":    err.Error(),
		})
	}

	return s.issuePair(user)
}

// recordFailure persists one more failed attempt and translates the lockout
// transition into a domain error. The counter increment is a single atomic
// store operation; the sixth consecutive failure reports the lock, not
// invalid credentials.
func (s *Service) recordFailure(ctx context.Context, username string, prev lockout.State) error {
	count, err := s.store.IncrementFailedAttempts(ctx, username)
	if err != nil {
		return fmt.Errorf("increment failed attempts: %w", err)
	}

	next, lockedNow := lockout.OnFailure(lockout.State{
		FailedAttempts: count - 1,
		LockedUntil:    prev.LockedUntil,
	})
	if lockedNow {
		if err := s.store.Lock(ctx, username, *next.LockedUntil); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		return ErrAccountLocked
	}

	return BadCredentialsError{RemainingAttempts: next.Remaining()}
}

// Register creates an Active credential record with the password epoch set
// to now and issues tokens exactly like a successful login.
func (s *Service) Register(ctx context.Context, input RegisterInput) (TokenPair, error) {
	username := normalizeUsername(input.Username)
	email := strings.TrimSpace(strings.ToLower(input.Email))

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	now := passwordEpoch()
	user, err := s.store.Create(ctx, User{
		Username:          username,
		Email:             email,
		FullName:          strings.TrimSpace(input.FullName),
		PasswordHash:      string(hash),
		Roles:             []string{defaultRole},
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrEmailTaken) {
			return TokenPair{}, err
		}
		return TokenPair{}, fmt.Errorf("create user: %w", err)
	}

	return s.issuePair(user)
}

// ChangePassword re-verifies the current password, then sets the new hash
// and bumps the password epoch in one store transition. Every token issued
// before this call stops validating, across all of the user's sessions.
func (s *Service) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdatePassword(ctx, userID, string(hash), passwordEpoch()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	return nil
}

// Refresh exchanges a valid refresh token for a new access+refresh pair
// stamped with the current password epoch. The old refresh token stays
// structurally valid until its own expiry; rotation on every call is the
// expected client behavior.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.codec.Decode(strings.TrimSpace(refreshToken))
	if err != nil {
		return TokenPair{}, err
	}
	if claims.TokenKind != token.KindRefresh {
		return TokenPair{}, token.ErrMalformed
	}

	user, err := s.store.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return TokenPair{}, ErrUserNotFound
		}
		return TokenPair{}, fmt.Errorf("load user: %w", err)
	}

	if claims.PasswordChangedAt != epochFingerprint(user.PasswordChangedAt) {
		return TokenPair{}, ErrPasswordChanged
	}

	return s.issuePair(user)
}

// Authenticate resolves an access token into a principal, including the
// password-epoch check against the live credential record.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.codec.Decode(accessToken)
	if err != nil {
		return Principal{}, err
	}
	if claims.TokenKind != token.KindAccess {
		return Principal{}, token.ErrMalformed
	}

	user, err := s.store.FindByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Principal{}, ErrUserNotFound
		}
		return Principal{}, fmt.Errorf("load user: %w", err)
	}

	if claims.PasswordChangedAt != epochFingerprint(user.PasswordChangedAt) {
		return Principal{}, ErrPasswordChanged
	}

	return Principal{UserID: user.ID, Username: user.Username, Roles: user.Roles}, nil
}

// UnlockAccount clears the lock and the failed-attempt counter. Idempotent
// when the account is not locked. Admin-only; the route gate enforces that.
func (s *Service) UnlockAccount(ctx context.Context, username string) error {
	username = normalizeUsername(username)

	if _, err := s.store.FindByUsername(ctx, username); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}

	if err := s.store.Unlock(ctx, username); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}

	return nil
}

func (s *Service) issuePair(user User) (TokenPair, error) {
	fingerprint := epochFingerprint(user.PasswordChangedAt)

	access, err := s.codec.Issue(user.Username, user.ID, user.Roles, fingerprint, token.KindAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.codec.Issue(user.Username, user.ID, user.Roles, fingerprint, token.KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		FullName:     user.FullName,
		Roles:        user.Roles,
	}, nil
}

// passwordEpoch returns the current time at the store's timestamp
// resolution. timestamptz keeps microseconds; issuing a fingerprint from a
// finer value would never match what validation reads back.
func passwordEpoch() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// epochFingerprint stringifies the last-password-change timestamp the same
// way at issuance and at validation. A zero epoch stamps an empty value.
func epochFingerprint(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(strings.ToLower(username))
}
