package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckdcare/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: now,
	}
}

// take refills the bucket up to now and consumes one token. When the bucket is
// empty it returns the number of whole seconds until a token is available.
func (b *tokenBucket) take(now time.Time) (ok bool, retryAfter int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, 1
	}
	return false, int((1-b.tokens)/b.refillRate) + 1
}

type limiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	buckets map[string]*tokenBucket
	now     func() time.Time
}

func (l *limiter) bucket(key string) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newTokenBucket(l.cfg.RequestsPerSecond, l.cfg.BurstSize, l.now())
		l.buckets[key] = b
	}
	return b
}

// RateLimit limits requests per authenticated user, falling back to the client
// IP for anonymous requests.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(cfg, time.Now)
}

func rateLimit(cfg RateLimitConfig, now func() time.Time) echo.MiddlewareFunc {
	l := &limiter{cfg: cfg, buckets: make(map[string]*tokenBucket), now: now}
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			ok, retry := l.bucket(key).take(l.now())
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retry))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
