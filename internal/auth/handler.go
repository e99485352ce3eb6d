package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"

	"taskman-server/internal/token"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,50}$`)
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	if !usernameRegex.MatchString(strings.ToLower(body.Username)) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "username format is invalid")
		return
	}
	if len(body.Password) < 6 || len(body.Password) > 100 {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "password format is invalid")
		return
	}

	pair, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		var badCreds BadCredentialsError
		switch {
		case errors.As(err, &badCreds):
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"status":            http.StatusUnauthorized,
				"errorCode":         "INVALID_CREDENTIALS",
				"message":           "invalid username or password",
				"remainingAttempts": badCreds.RemainingAttempts,
			})
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
		case errors.Is(err, ErrAccountLocked):
			writeError(w, http.StatusUnauthorized, "ACCOUNT_LOCKED",
				"account locked after too many failed logins, contact an administrator")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to login")
		}
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(body.Email)
	if !usernameRegex.MatchString(strings.ToLower(body.Username)) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "username must be 3-50 characters of a-z 0-9 _ . -")
		return
	}
	if len(body.Password) < 6 || len(body.Password) > 100 {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "password must be 6-100 characters")
		return
	}
	if !emailRegex.MatchString(body.Email) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "email is invalid")
		return
	}

	pair, err := h.service.Register(r.Context(), RegisterInput{
		Username: body.Username,
		Password: body.Password,
		Email:    body.Email,
		FullName: body.FullName,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUsernameTaken):
			writeError(w, http.StatusConflict, "USERNAME_TAKEN", "username is already in use")
		case errors.Is(err, ErrEmailTaken):
			writeError(w, http.StatusConflict, "EMAIL_TAKEN", "email is already in use")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to register")
		}
		return
	}

	writeJSON(w, http.StatusCreated, pair)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	pair, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		if code, ok := tokenErrorCode(err); ok {
			writeError(w, http.StatusUnauthorized, code, "refresh token rejected")
			return
		}
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "USER_NOT_FOUND", "refresh token subject no longer exists")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, err := CurrentPrincipal(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "authentication required")
		return
	}

	var body changePasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body.NewPassword) < 6 || len(body.NewPassword) > 100 {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "new password must be 6-100 characters")
		return
	}

	if err := h.service.ChangePassword(r.Context(), principal.UserID, body.CurrentPassword, body.NewPassword); err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "current password is incorrect")
		case errors.Is(err, ErrUserNotFound):
			writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to change password")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "password changed, log in again on all devices",
	})
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	principal, err := CurrentPrincipal(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "authentication required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":   principal.UserID,
		"username": principal.Username,
		"roles":    principal.Roles,
	})
}

// tokenErrorCode maps codec and epoch failures onto the machine-readable
// reason codes clients switch on.
func tokenErrorCode(err error) (string, bool) {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "JWT_EXPIRED", true
	case errors.Is(err, token.ErrBadSignature):
		return "INVALID_JWT_SIGNATURE", true
	case errors.Is(err, token.ErrMalformed):
		return "MALFORMED_JWT", true
	case errors.Is(err, ErrPasswordChanged):
		return "PASSWORD_CHANGED", true
	default:
		return "", false
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, errorCode, message string) {
	writeJSON(w, status, map[string]any{
		"status":    status,
		"errorCode": errorCode,
		"message":   message,
	})
}
