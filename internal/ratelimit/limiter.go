package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// Policy is a request budget for one route class.
type Policy struct {
	MaxRequests int
	Window      time.Duration
}

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window per-key request counter. The read-check-increment
// for a key happens under a single mutex hold, so two concurrent requests can
// never both observe count == max-1 and both pass. State is process-local:
// under horizontal scaling each instance enforces its budget independently.
type Limiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	maxWindow time.Duration
	lastSweep time.Time
}

// sweepEvery bounds how often the amortized cleanup walks the map.
const sweepEvery = time.Minute

func NewLimiter(maxWindow time.Duration) *Limiter {
	if maxWindow <= 0 {
		maxWindow = time.Minute
	}
	return &Limiter{
		windows:   make(map[string]*window),
		maxWindow: maxWindow,
	}
}

// Allow records one request for key and reports whether it fits the policy.
// An expired window is reset to {start: now, count: 1} rather than
// incremented.
func (l *Limiter) Allow(key string, maxRequests int, windowSize time.Duration, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil || now.Sub(w.start) > windowSize {
		l.windows[key] = &window{start: now, count: 1}
		l.sweepLocked(now)
		return true
	}

	w.count++
	l.sweepLocked(now)
	return w.count <= maxRequests
}

// sweepLocked drops windows older than the largest configured window so that
// high key cardinality (spoofed IPs) cannot grow the map without bound.
// Caller must hold l.mu.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < sweepEvery {
		return
	}
	l.lastSweep = now

	cutoff := now.Add(-l.maxWindow)
	for key, w := range l.windows {
		if w.start.Before(cutoff) {
			delete(l.windows, key)
		}
	}
}

// Size returns the number of tracked keys. Used by tests and diagnostics.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// ClientIP derives the limiter key for a request. The first address in
// X-Forwarded-For wins when present; this deliberately trusts the upstream
// proxy to strip client-supplied values, and is spoofable when the service
// is exposed without one.
func ClientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
