package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Decode failures. Callers discriminate with errors.Is: an expired token
// should prompt a refresh, the other two should not.
var (
	ErrExpired      = errors.New("token expired")
	ErrBadSignature = errors.New("token signature invalid")
	ErrMalformed    = errors.New("token malformed")
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the fixed claim set carried by every issued token. The JSON
// names match the wire format the clients already depend on.
type Claims struct {
	UserID            int64    `json:"userId"`
	Roles             []string `json:"roles,omitempty"`
	TokenKind         Kind     `json:"typ"`
	PasswordChangedAt string   `json:"pwdChangeTime,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies self-contained bearer tokens with a server-held
// symmetric key. It is stateless; the password-epoch comparison against the
// live user record is the auth service's job, not the codec's.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewCodec(secret string, accessTTL, refreshTTL time.Duration) *Codec {
	return &Codec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (c *Codec) AccessTTL() time.Duration {
	return c.accessTTL
}

func (c *Codec) TTL(kind Kind) time.Duration {
	if kind == KindRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue builds and signs a token for the subject. epochFingerprint is the
// stringified last-password-change timestamp taken from the user record at
// issuance time; both tokens of a pair must carry the same value.
func (c *Codec) Issue(subject string, userID int64, roles []string, epochFingerprint string, kind Kind) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID:            userID,
		Roles:             roles,
		TokenKind:         kind,
		PasswordChangedAt: epochFingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.TTL(kind))),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, nil
}

// Decode verifies signature and expiry and returns the claims. The error is
// always one of ErrExpired, ErrBadSignature or ErrMalformed.
func (c *Codec) Decode(raw string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Claims{}, ErrBadSignature
		default:
			return Claims{}, ErrMalformed
		}
	}
	if !parsed.Valid {
		return Claims{}, ErrMalformed
	}

	return claims, nil
}
