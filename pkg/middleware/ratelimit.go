package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexcrm/plexcrm/pkg/audit"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// MaxAttempts is the attempt ceiling per window
	MaxAttempts int
	// WindowDuration is the fixed window length
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns the limits for sensitive endpoints
// such as login and password reset: 5 attempts per 15 minutes.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MaxAttempts:    5,
		WindowDuration: 15 * time.Minute,
	}
}

// RateLimiter implements fixed-window rate limiting keyed by client
// address. The first attempt from a key opens a window; attempts past
// the ceiling are denied until the window expires, at which point the
// next attempt starts a fresh window.
type RateLimiter struct {
	config *RateLimitConfig
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	count  int
	expiry time.Time
}

// NewRateLimiter creates a new fixed-window rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		now:     time.Now,
		windows: make(map[string]*rateWindow),
	}
}

// WithClock replaces the limiter's time source. For tests.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

// Check records an attempt for the key and reports whether it is
// allowed. When denied, retryAfter is the whole seconds until the
// window expires, rounded up. Increment and ceiling comparison happen
// under one lock so concurrent bursts cannot undercount.
func (rl *RateLimiter) Check(key string) (allowed bool, retryAfter int) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.expiry) {
		rl.windows[key] = &rateWindow{count: 1, expiry: now.Add(rl.config.WindowDuration)}
		return true, 0
	}

	w.count++
	if w.count > rl.config.MaxAttempts {
		return false, int(math.Ceil(w.expiry.Sub(now).Seconds()))
	}
	return true, 0
}

// Purge removes expired windows. Best-effort housekeeping; a stale
// entry is reset on next use regardless.
func (rl *RateLimiter) Purge() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, w := range rl.windows {
		if !now.Before(w.expiry) {
			delete(rl.windows, key)
		}
	}
}

// Size returns the number of tracked windows, expired or not.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// StartPurge runs Purge on an interval until the context is canceled.
func (rl *RateLimiter) StartPurge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Purge()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware guards sensitive endpoints with a fixed-window
// limiter keyed by client address.
//
// MIDDLEWARE ORDERING REQUIREMENT: runs before TenantContext so
// abusive traffic is refused before any tenant connection work.
type RateLimitMiddleware struct {
	limiter *RateLimiter
	auditor audit.Logger
	denials prometheus.Counter
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(limiter *RateLimiter, auditor audit.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		auditor: auditor,
	}
}

// WithDenialCounter records denied attempts.
func (m *RateLimitMiddleware) WithDenialCounter(c prometheus.Counter) *RateLimitMiddleware {
	m.denials = c
	return m
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + ClientIP(r)
		allowed, retryAfter := m.limiter.Check(key)
		if !allowed {
			if m.denials != nil {
				m.denials.Inc()
			}
			audit.Record(r.Context(), m.auditor, &audit.Event{
				EventType: audit.EventTypeAuthRateLimited,
				Status:    audit.EventStatusDenied,
				IPAddress: ClientIP(r),
				Method:    r.Method,
				Path:      r.URL.Path,
			})
			rateLimitExceededResponse(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitExceededResponse(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(fmt.Sprintf(`{"error":"rate limit exceeded","retry_after":%d}`, retryAfter)))
}

// ClientIP returns the client address for rate limit keying.
func ClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (if behind proxy)
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
