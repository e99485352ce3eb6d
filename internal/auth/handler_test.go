package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postJSON(t *testing.T, handlerFunc http.HandlerFunc, path, payload string, ctx context.Context) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("POST", path, strings.NewReader(payload))
	if ctx != nil {
		r = r.WithContext(ctx)
	}
	w := httptest.NewRecorder()
	handlerFunc(w, r)
	return w
}

func TestLoginHandlerWrongPassword(t *testing.T) {
	service := newTestService(newMemStore())
	register(t, service, "alice", "Secr3t!pass")
	handler := NewHandler(service)

	w := postJSON(t, handler.Login, "/api/auth/login",
		`{"username":"alice","password":"wrong-pass"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	var body struct {
		ErrorCode         string `json:"errorCode"`
		RemainingAttempts int    `json:"remainingAttempts"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ErrorCode != "INVALID_CREDENTIALS" {
		t.Errorf("errorCode = %q", body.ErrorCode)
	}
	if body.RemainingAttempts != 5 {
		t.Errorf("remainingAttempts = %d, want 5", body.RemainingAttempts)
	}
}

func TestLoginHandlerLockedAccount(t *testing.T) {
	service := newTestService(newMemStore())
	register(t, service, "bob", "Secr3t!pass")
	handler := NewHandler(service)

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = postJSON(t, handler.Login, "/api/auth/login",
			`{"username":"bob","password":"wrong-pass"}`, nil)
	}

	if body := decodeErrorBody(t, last); body.ErrorCode != "ACCOUNT_LOCKED" {
		t.Fatalf("sixth attempt errorCode = %q, want ACCOUNT_LOCKED", body.ErrorCode)
	}

	// Correct credentials still bounce off the lock.
	w := postJSON(t, handler.Login, "/api/auth/login",
		`{"username":"bob","password":"Secr3t!pass"}`, nil)
	if body := decodeErrorBody(t, w); body.ErrorCode != "ACCOUNT_LOCKED" {
		t.Fatalf("locked login errorCode = %q, want ACCOUNT_LOCKED", body.ErrorCode)
	}
}

func TestRegisterHandlerConflict(t *testing.T) {
	service := newTestService(newMemStore())
	register(t, service, "alice", "Secr3t!pass")
	handler := NewHandler(service)

	w := postJSON(t, handler.Register, "/api/auth/register",
		`{"username":"alice","password":"whatever1","email":"other@example.com"}`, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if body := decodeErrorBody(t, w); body.ErrorCode != "USERNAME_TAKEN" {
		t.Fatalf("errorCode = %q", body.ErrorCode)
	}
}

func TestRefreshHandlerMalformed(t *testing.T) {
	service := newTestService(newMemStore())
	handler := NewHandler(service)

	w := postJSON(t, handler.Refresh, "/api/auth/refresh-token",
		`{"refreshToken":"not-a-token"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := decodeErrorBody(t, w); body.ErrorCode != "MALFORMED_JWT" {
		t.Fatalf("errorCode = %q", body.ErrorCode)
	}
}

func TestChangePasswordHandlerRequiresPrincipal(t *testing.T) {
	service := newTestService(newMemStore())
	handler := NewHandler(service)

	w := postJSON(t, handler.ChangePassword, "/api/auth/change-password",
		`{"currentPassword":"a-password","newPassword":"b-password"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := decodeErrorBody(t, w); body.ErrorCode != "NOT_AUTHENTICATED" {
		t.Fatalf("errorCode = %q", body.ErrorCode)
	}
}

func TestCurrentUserHandler(t *testing.T) {
	service := newTestService(newMemStore())
	handler := NewHandler(service)

	ctx := WithPrincipal(context.Background(), Principal{UserID: 7, Username: "alice", Roles: []string{"USER"}})
	r := httptest.NewRequest("GET", "/api/auth/current-user", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	handler.CurrentUser(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["username"] != "alice" {
		t.Fatalf("username = %v", body["username"])
	}
}
