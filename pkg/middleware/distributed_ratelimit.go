package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexcrm/plexcrm/pkg/audit"
)

// DistributedRateLimiter implements fixed-window rate limiting using
// Redis so limits are shared across instances.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Check records an attempt and reports whether it is allowed. On Redis
// errors it fails open (allows the request) to prevent an infra outage
// from locking everyone out, returning the error for metrics.
func (rl *DistributedRateLimiter) Check(ctx context.Context, key string) (allowed bool, retryAfter int, err error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttlCmd := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("redis error: %w", err)
	}

	// A negative TTL means the counter has no expiry: either this is
	// the first attempt of a window, or a crash between INCR and
	// EXPIRE left the counter orphaned. Either way the window
	// (re)starts now, so later attempts accumulate against a fixed
	// deadline instead of denying forever.
	ttl := ttlCmd.Val()
	if ttl < 0 {
		rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration)
		ttl = rl.config.WindowDuration
	}

	if incr.Val() <= int64(rl.config.MaxAttempts) {
		return true, 0, nil
	}
	return false, int(math.Ceil(ttl.Seconds())), nil
}

// Reset clears the rate limit for a key (for testing or admin purposes)
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *DistributedRateLimiter) HealthCheck(ctx context.Context) error {
	return rl.redis.Ping(ctx).Err()
}

// DistributedRateLimitMiddleware guards sensitive endpoints with a
// Redis-backed fixed-window limiter keyed by client address.
type DistributedRateLimitMiddleware struct {
	limiter *DistributedRateLimiter
	auditor audit.Logger
	denials prometheus.Counter
}

// NewDistributedRateLimitMiddleware creates a new Redis-backed rate
// limit middleware
func NewDistributedRateLimitMiddleware(limiter *DistributedRateLimiter, auditor audit.Logger) *DistributedRateLimitMiddleware {
	return &DistributedRateLimitMiddleware{
		limiter: limiter,
		auditor: auditor,
	}
}

// WithDenialCounter records denied attempts.
func (m *DistributedRateLimitMiddleware) WithDenialCounter(c prometheus.Counter) *DistributedRateLimitMiddleware {
	m.denials = c
	return m
}

// Handler wraps an HTTP handler with distributed rate limiting
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + ClientIP(r)
		allowed, retryAfter, err := m.limiter.Check(r.Context(), key)
		if err != nil {
			// Fail open: Redis being down must not block logins.
			next.ServeHTTP(w, r)
			return
		}
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
				Metadata:  map[string]interface{}{"retry_after": retryAfter},
			})
			rateLimitExceededResponse(w, retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}
