// Package ratelimit implements per-IP token-bucket rate limiting on top
// of golang.org/x/time/rate, adapted from
// streamspace-dev-streamspace/api/internal/middleware/ratelimit.go (Gin)
// to Fiber, with RFC-style X-RateLimit-* headers and Retry-After added.
package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// Config is a per-endpoint limit: burst tokens refilled at rate-per-window.
type Config struct {
	Limit  int           // tokens per window
	Window time.Duration // e.g. 60 * time.Second
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// Limiter holds one token bucket per client IP, guarded by a RWMutex. There
// is no background sweep: memory is bounded inline, when get finds the map
// at its size threshold and evicts before adding a new bucket.
type Limiter struct {
	cfg     Config
	mu      sync.RWMutex
	buckets map[string]*bucket
	maxSize int
}

func New(cfg Config) *Limiter {
	l := &Limiter{cfg: cfg, buckets: make(map[string]*bucket), maxSize: 10000}
	return l
}

func (l *Limiter) get(ip string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[ip]
	l.mu.RUnlock()
	if ok {
		b.seen = time.Now()
		return b.limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[ip]; ok {
		b.seen = time.Now()
		return b.limiter
	}
	if len(l.buckets) >= l.maxSize {
		l.evictLocked()
	}
	perSecond := rate.Limit(float64(l.cfg.Limit) / l.cfg.Window.Seconds())
	nb := &bucket{limiter: rate.NewLimiter(perSecond, l.cfg.Limit), seen: time.Now()}
	l.buckets[ip] = nb
	return nb.limiter
}

// evictLocked drops the whole map once it exceeds maxSize; callers already
// hold l.mu. This is a blunt but bounded strategy — the lazy-eviction
// policy the spec calls for — rather than per-entry LRU bookkeeping.
func (l *Limiter) evictLocked() {
	l.buckets = make(map[string]*bucket)
}

// Allow reports whether ip may proceed, and the bucket's current state for
// header reporting.
func (l *Limiter) Allow(ip string) (allowed bool, remaining int, resetAt time.Time) {
	limiter := l.get(ip)
	allowed = limiter.Allow()
	remaining = int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	resetAt = time.Now().Add(l.cfg.Window)
	return allowed, remaining, resetAt
}

// Middleware returns a Fiber handler enforcing l against the request's
// client IP, writing X-RateLimit-* headers on every response and
// Retry-After + rate_limit_exceeded on rejection.
func (l *Limiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := c.IP()
		allowed, remaining, resetAt := l.Allow(ip)
		c.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if !allowed {
			c.Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":             "rate_limit_exceeded",
				"error_description": "too many requests",
			})
		}
		return c.Next()
	}
}
