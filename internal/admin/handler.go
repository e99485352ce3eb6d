package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"taskman-server/internal/auth"
	"taskman-server/internal/observability"
)

const requiredRole = "ADMIN"

// Handler exposes the privileged account operations. Each route checks the
// ADMIN role itself; the admission filter only establishes the principal.
type Handler struct {
	service *auth.Service
	logger  *observability.Logger
}

func NewHandler(service *auth.Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Unlock handles POST /api/admin/users/{username}/unlock. Idempotent: an
// already-active account unlocks to itself.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.CurrentPrincipal(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "authentication required")
		return
	}
	if !principal.HasRole(requiredRole) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "admin role required")
		return
	}

	username := strings.TrimSpace(r.PathValue("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "username is required")
		return
	}

	if err := h.service.UnlockAccount(r.Context(), username); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to unlock account")
		return
	}

	h.logger.Info("account_unlocked", map[string]any{
		"username": username,
		"admin":    principal.Username,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "account unlocked"})
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
