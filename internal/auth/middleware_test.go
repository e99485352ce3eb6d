package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskman-server/internal/observability"
	"taskman-server/internal/ratelimit"
	"taskman-server/internal/token"
)

func testAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		DefaultPolicy:      ratelimit.Policy{MaxRequests: 60, Window: time.Minute},
		AuthPolicy:         ratelimit.Policy{MaxRequests: 3, Window: time.Minute},
		AuthPathPrefixes:   []string{"/api/auth/login", "/api/auth/register"},
		PublicPathPrefixes: []string{"/api/auth/login", "/api/auth/register", "/api/auth/refresh-token"},
		BypassPathPrefixes: []string{"/health", "/docs"},
	}
}

// echoPrincipal reports whether the filter established a principal.
func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFrom(r.Context()); ok {
			writeJSON(w, http.StatusOK, map[string]any{"principal": p.Username})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"principal": nil})
	})
}

type errorBody struct {
	Status    int    `json:"status"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func doRequest(t *testing.T, handler http.Handler, method, path, ip, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, nil)
	r.RemoteAddr = ip + ":1234"
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestAdmissionBypassSkipsLimiting(t *testing.T) {
	service := newTestService(newMemStore())
	filter := NewAdmissionFilter(ratelimit.NewLimiter(time.Minute), service, testAdmissionConfig())
	handler := filter.Wrap(echoPrincipal())

	for i := 0; i < 100; i++ {
		if w := doRequest(t, handler, "GET", "/health", "9.9.9.9", ""); w.Code != http.StatusOK {
			t.Fatalf("bypass request %d status = %d", i+1, w.Code)
		}
	}
}

func TestAdmissionRateLimitsAuthEndpoints(t *testing.T) {
	service := newTestService(newMemStore())
	filter := NewAdmissionFilter(ratelimit.NewLimiter(time.Minute), service, testAdmissionConfig())
	handler := filter.Wrap(echoPrincipal())

	for i := 0; i < 3; i++ {
		if w := doRequest(t, handler, "POST", "/api/auth/login", "5.5.5.5", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, w.Code)
		}
	}

	w := doRequest(t, handler, "POST", "/api/auth/login", "5.5.5.5", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if body := decodeErrorBody(t, w); body.ErrorCode != "TOO_MANY_REQUESTS" {
		t.Fatalf("errorCode = %q", body.ErrorCode)
	}

	// The default budget for the same client is independent of the strict one.
	if w := doRequest(t, handler, "GET", "/api/tasks", "5.5.5.5", ""); w.Code != http.StatusOK {
		t.Fatalf("default-class request status = %d", w.Code)
	}
}

func TestAdmissionMissingTokenPassesWithoutPrincipal(t *testing.T) {
	service := newTestService(newMemStore())
	filter := NewAdmissionFilter(ratelimit.NewLimiter(time.Minute), service, testAdmissionConfig())
	handler := filter.Wrap(echoPrincipal())

	w := doRequest(t, handler, "GET", "/api/tasks", "1.1.1.1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["principal"] != nil {
		t.Fatalf("principal = %v, want none", body["principal"])
	}
}

func TestAdmissionEstablishesPrincipal(t *testing.T) {
	store := newMemStore()
	service := newTestService(store)
	pair := register(t, service, "alice", "Secr3t!pass")

	filter := NewAdmissionFilter(ratelimit.NewLimiter(time.Minute), service, testAdmissionConfig())
	handler := filter.Wrap(echoPrincipal())

	w := doRequest(t, handler, "GET", "/api/tasks", "1.1.1.1", pair.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["principal"] != "alice" {
		t.Fatalf("principal = %v, want alice", body["principal"])
	}
}

func TestAdmissionRejectsBadTokens(t *testing.T) {
	store := newMemStore()
	service := newTestService(store)
	pair := register(t, service, "alice", "Secr3t!pass")

	expired := NewService(store, token.NewCodec("test-secret", -time.Minute, 168*time.Hour), observability.NewLogger())
	expiredPair, err := expired.Login(context.Background(), "alice", "Secr3t!pass")
	if err != nil {
		t.Fatalf("expired login: %v", err)
	}

	forged := NewService(store, token.NewCodec("attacker-secret", 15*time.Minute, 168*time.Hour), observability.NewLogger())
	forgedPair, err := forged.Login(context.Background(), "alice", "Secr3t!pass")
	if err != nil {
		t.Fatalf("forged login: %v", err)
	}

	filter := NewAdmissionFilter(ratelimit.NewLimiter(time.Minute), service, testAdmissionConfig())
	handler := filter.Wrap(echoPrincipal())

	cases := []struct {
		name     string
		bearer   string
		wantCode string
	}{
		{"expired", expiredPair.AccessToken, "JWT_EXPIRED"},
		{"bad signature", forgedPair.AccessToken, "INVALID_JWT_SIGNATURE"},
		{"malformed", "not-a-token", "MALFORMED_JWT"},
		{"refresh token on protected route", pair.RefreshToken, "MALFORMED_JWT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, handler, "GET", "/api/tasks", "1.1.1.1", tc.bearer)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if body := decodeErrorBody(t, w); body.ErrorCode != tc.wantCode {
				t.Fatalf("errorCode = %q, want %q", body.ErrorCode, tc.wantCode)
			}
		})
	}
}

func TestAdmissionRejectsTokenAfterPasswordChange(t *testing.T) {
	store := newMemStore()
	service := newTestService(store)
	pair := register(t, service, "alice", "Secr3t!pass")

	filter := NewAdmissionFilter(ratelimit.NewLimiter(time.Minute), service, testAdmissionConfig())
	handler := filter.Wrap(echoPrincipal())

	if w := doRequest(t, handler, "GET", "/api/tasks", "1.1.1.1", pair.AccessToken); w.Code != http.StatusOK {
		t.Fatalf("status before change = %d", w.Code)
	}

	if err := service.ChangePassword(context.Background(), pair.UserID, "Secr3t!pass", "N3w!password"); err != nil {
		t.Fatalf("change password: %v", err)
	}

	w := doRequest(t, handler, "GET", "/api/tasks", "1.1.1.1", pair.AccessToken)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status after change = %d, want 401", w.Code)
	}
	if body := decodeErrorBody(t, w); body.ErrorCode != "PASSWORD_CHANGED" {
		t.Fatalf("errorCode = %q, want PASSWORD_CHANGED", body.ErrorCode)
	}
}
