package auth

import "time"

// User is the credential record the core reads and conditionally mutates.
// The password hash is opaque outside this package beyond verify/set.
type User struct {
	ID             int64
	Username       string
	Email          string
	FullName       string
	PasswordHash   string
	Roles          []string
	FailedAttempts int
	LockedUntil    *time.Time
	// PasswordChangedAt is the password epoch: set at creation and bumped on
	// every successful password change. Tokens minted before the current
	// epoch are rejected, which revokes all outstanding sessions without a
	// revocation list.
	PasswordChangedAt time.Time
	LastLoginAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Principal is the authenticated identity the admission filter places in the
// request context.
type Principal struct {
	UserID   int64
	Username string
	Roles    []string
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenPair is returned by login, register and refresh.
type TokenPair struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	TokenType    string   `json:"tokenType"`
	ExpiresIn    int64    `json:"expiresIn"`
	UserID       int64    `json:"userId"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	FullName     string   `json:"fullName,omitempty"`
	Roles        []string `json:"roles"`
}

type RegisterInput struct {
	Username string
	Password string
	Email    string
	FullName string
}
