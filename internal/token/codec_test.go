package token

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndDecode(t *testing.T) {
	codec := NewCodec("test-secret", 15*time.Minute, 168*time.Hour)

	raw, err := codec.Issue("alice", 7, []string{"USER"}, "2026-01-02T03:04:05.000000006Z", KindAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if raw == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q, want alice", claims.Subject)
	}
	if claims.UserID != 7 {
		t.Errorf("userId = %d, want 7", claims.UserID)
	}
	if claims.TokenKind != KindAccess {
		t.Errorf("typ = %q, want access", claims.TokenKind)
	}
	if claims.PasswordChangedAt != "2026-01-02T03:04:05.000000006Z" {
		t.Errorf("pwdChangeTime = %q", claims.PasswordChangedAt)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		t.Fatal("expected exp and iat claims")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 15*time.Minute {
		t.Errorf("access ttl = %v, want 15m", got)
	}
}

func TestRefreshTokenTTL(t *testing.T) {
	codec := NewCodec("test-secret", 15*time.Minute, 168*time.Hour)

	raw, err := codec.Issue("alice", 7, nil, "", KindRefresh)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claims.TokenKind != KindRefresh {
		t.Errorf("typ = %q, want refresh", claims.TokenKind)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 168*time.Hour {
		t.Errorf("refresh ttl = %v, want 168h", got)
	}
}

func TestDecodeExpired(t *testing.T) {
	codec := NewCodec("test-secret", -time.Minute, 168*time.Hour)

	raw, err := codec.Issue("alice", 7, nil, "", KindAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := codec.Decode(raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestDecodeBadSignature(t *testing.T) {
	issuer := NewCodec("issuer-secret", 15*time.Minute, 168*time.Hour)
	verifier := NewCodec("other-secret", 15*time.Minute, 168*time.Hour)

	raw, err := issuer.Issue("alice", 7, nil, "", KindAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := verifier.Decode(raw); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	codec := NewCodec("test-secret", 15*time.Minute, 168*time.Hour)

	for _, raw := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		if _, err := codec.Decode(raw); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) err = %v, want ErrMalformed", raw, err)
		}
	}
}
