// Package middleware provides the HTTP middleware for permitguard: caller
// identity, rate limiting, request IDs and response hardening.
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// maxBuckets is the maximum number of tracked keys to prevent memory exhaustion.
const maxBuckets = 100_000

// KeyFunc picks the bucket a request is charged against.
type KeyFunc func(c *gin.Context) string

// ByClientIP charges requests to the client address. c.ClientIP() cannot be
// spoofed through X-Forwarded-For because the router trusts no proxies.
func ByClientIP(c *gin.Context) string { return "ip:" + c.ClientIP() }

// ByActor charges requests to the authenticated actor, falling back to the
// client address when no identity has been set yet.
func ByActor(c *gin.Context) string {
	if id := ActorID(c); id != "" {
		return "actor:" + id
	}

	return ByClientIP(c)
}

// RateLimiter implements a token bucket rate limiter per key.
type RateLimiter struct {
	buckets map[string]*bucket
	mu      sync.Mutex
	rate    int
	burst   int
	key     KeyFunc
}

type bucket struct {
	tokens     int
	lastFill   time.Time
	ratePerSec int
	burst      int
}

func (b *bucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(b.lastFill).Seconds()
	refill := int(elapsed * float64(b.ratePerSec))

	if refill > 0 {
		b.tokens += refill
		if b.tokens > b.burst {
			b.tokens = b.burst
		}

		b.lastFill = now
	}

	if b.tokens > 0 {
		b.tokens--

		return true
	}

	return false
}

// NewRateLimiter creates a RateLimiter with the given requests per second and
// burst size, keyed by key (ByClientIP when nil). A background goroutine
// evicts stale buckets until ctx is cancelled.
func NewRateLimiter(ctx context.Context, ratePerSec, burst int, key KeyFunc) *RateLimiter {
	if key == nil {
		key = ByClientIP
	}

	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    ratePerSec,
		burst:   burst,
		key:     key,
	}
	go rl.startCleanup(ctx)

	return rl
}

func (rl *RateLimiter) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	const maxAge = 10 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for k, b := range rl.buckets {
				if now.Sub(b.lastFill) > maxAge {
					delete(rl.buckets, k)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Handler returns Gin middleware that applies the limit per key.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		k := rl.key(c)

		rl.mu.Lock()
		b, ok := rl.buckets[k]
		if !ok {
			if len(rl.buckets) >= maxBuckets {
				rl.mu.Unlock()
				respondError(c, http.StatusTooManyRequests, "rate_limited", "too many clients")

				return
			}

			b = &bucket{
				tokens:     rl.burst,
				lastFill:   time.Now(),
				ratePerSec: rl.rate,
				burst:      rl.burst,
			}
			rl.buckets[k] = b
		}

		allowed := b.allow()
		rl.mu.Unlock()

		if !allowed {
			c.Header("Retry-After", "1")
			respondError(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")

			return
		}

		c.Next()
	}
}
