package mw

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyedLimiter keeps one token bucket per caller. Authenticated requests
// are keyed by user so a whole school behind one NAT doesn't share a
// bucket; anonymous ones fall back to the client IP. Stale buckets are
// pruned so the map doesn't grow with every visitor ever seen.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	r        rate.Limit
	b        int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleTTL = 10 * time.Minute

func newKeyedLimiter(r rate.Limit, b int) *keyedLimiter {
	return &keyedLimiter{
		limiters: make(map[string]*limiterEntry),
		r:        r,
		b:        b,
	}
}

func (k *keyedLimiter) allow(key string) bool {
	now := time.Now()

	k.mu.Lock()
	entry, ok := k.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(k.r, k.b)}
		k.limiters[key] = entry
	}
	entry.lastSeen = now

	if len(k.limiters) > 1024 {
		for key, e := range k.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(k.limiters, key)
			}
		}
	}
	k.mu.Unlock()

	return entry.limiter.Allow()
}

// RateLimiter is a middleware limiting request rate per user (or per IP for
// anonymous callers).
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := newKeyedLimiter(r, b)
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID := UserID(c); userID > 0 {
			key = "u" + strconv.FormatInt(userID, 10)
		}
		if !limiter.allow(key) {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
