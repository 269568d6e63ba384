package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ttlLimiterCache is a TTL map of per-key limiters with opportunistic
// sweeping, so a flood of distinct keys (one-off API keys, spoofed IPs)
// doesn't grow the map forever.
type ttlLimiterCache struct {
	mu        sync.Mutex
	items     map[string]*limiterEntry
	ttl       time.Duration
	lastSweep time.Time
}

func newTTLLimiterCache(ttl time.Duration) *ttlLimiterCache {
	return &ttlLimiterCache{items: make(map[string]*limiterEntry), ttl: ttl}
}

func (c *ttlLimiterCache) get(key string, rps rate.Limit, burst int) *rate.Limiter {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		e.lastSeen = now
		return e.lim
	}
	lim := rate.NewLimiter(rps, burst)
	c.items[key] = &limiterEntry{lim: lim, lastSeen: now}
	if now.Sub(c.lastSweep) > 2*time.Minute {
		c.sweepLocked(now)
		c.lastSweep = now
	}
	return lim
}

func (c *ttlLimiterCache) sweepLocked(now time.Time) {
	for k, e := range c.items {
		if now.Sub(e.lastSeen) > c.ttl {
			delete(c.items, k)
		}
	}
}

// RateLimit bounds inbound requests per API key (falling back to client
// IP when no key is presented) plus a coarser global guard five times
// as permissive, so one noisy key can't starve everyone else but a
// burst of distinct keys still gets capped overall.
func RateLimit(rps, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	cache := newTTLLimiterCache(15 * time.Minute)
	global := rate.NewLimiter(rate.Limit(rps*5), burst*5)

	return func(c *gin.Context) {
		if !global.Allow() {
			respondError(c, 429, "rate_limit_exceeded", "rate_limit_error", "global rate limit exceeded")
			return
		}
		key := extractCandidate(c)
		if key == "" {
			key = c.ClientIP()
		}
		limiter := cache.get(key, rate.Limit(rps), burst)
		if !limiter.Allow() {
			respondError(c, 429, "rate_limit_exceeded", "rate_limit_error", "rate limit exceeded")
			return
		}
		c.Next()
	}
}
