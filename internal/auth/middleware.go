package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"taskman-server/internal/ratelimit"
)

// AdmissionConfig holds the per-request gating policy. Values are fixed at
// bootstrap; the filter never mutates them.
type AdmissionConfig struct {
	// DefaultPolicy applies to every route that is not an auth endpoint.
	DefaultPolicy ratelimit.Policy
	// AuthPolicy is the stricter budget for credential-guessing surfaces.
	AuthPolicy ratelimit.Policy
	// AuthPathPrefixes selects routes that get AuthPolicy.
	AuthPathPrefixes []string
	// PublicPathPrefixes pass the rate limiter but never require a token.
	PublicPathPrefixes []string
	// BypassPathPrefixes skip the filter entirely (health, docs).
	BypassPathPrefixes []string
}

// AdmissionFilter gates every inbound request: rate limit first, then bearer
// token resolution. A missing token is not an error here; routes that need a
// principal reject on their own via CurrentPrincipal.
type AdmissionFilter struct {
	limiter *ratelimit.Limiter
	service *Service
	config  AdmissionConfig
}

func NewAdmissionFilter(limiter *ratelimit.Limiter, service *Service, config AdmissionConfig) *AdmissionFilter {
	return &AdmissionFilter{limiter: limiter, service: service, config: config}
}

func (f *AdmissionFilter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if hasPrefix(path, f.config.BypassPathPrefixes) {
			next.ServeHTTP(w, r)
			return
		}

		ip := ratelimit.ClientIP(r)
		policy := f.config.DefaultPolicy
		class := "default"
		if hasPrefix(path, f.config.AuthPathPrefixes) {
			policy = f.config.AuthPolicy
			class = "auth"
		}
		// Keys carry the route class so the strict and default budgets for
		// one IP count independently.
		if !f.limiter.Allow(ip+"|"+class, policy.MaxRequests, policy.Window, time.Now().UTC()) {
			writeError(w, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "too many requests, try again later")
			return
		}

		if hasPrefix(path, f.config.PublicPathPrefixes) {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := f.service.Authenticate(r.Context(), raw)
		if err != nil {
			if code, known := tokenErrorCode(err); known {
				writeError(w, http.StatusUnauthorized, code, "token rejected")
				return
			}
			if errors.Is(err, ErrUserNotFound) {
				writeError(w, http.StatusUnauthorized, "USER_NOT_FOUND", "token subject no longer exists")
				return
			}
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to authenticate request")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return "", false
	}
	return raw, true
}

func hasPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
