package localratelimiter

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const idleTimeout = time.Minute

// RateLimiter struct to hold limiter information and related methods
type RateLimiter struct {
	clientLimiters map[string]*limiterEntry
	mutex          sync.Mutex
	limit          rate.Limit
	burst          int
	onLimited      func(client string)
	now            func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per client with the given burst. Idle limiters are
// dropped until ctx is done.
func NewRateLimiter(ctx context.Context, perSecond float64, burst int, onLimited func(client string)) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if onLimited == nil {
		onLimited = func(string) {}
	}
	rl := &RateLimiter{
		clientLimiters: make(map[string]*limiterEntry),
		limit:          rate.Limit(perSecond),
		burst:          burst,
		onLimited:      onLimited,
		now:            time.Now,
	}
	go rl.cleanupOldLimiters(ctx)
	return rl
}

// RateLimiterMiddleware returns a gin.HandlerFunc that enforces rate limiting per client IP
func (rl *RateLimiter) RateLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.ClientIP()
		if !rl.Allow(client) {
			rl.onLimited(client)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// Allow reports whether client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mutex.Lock()
	entry := rl.getLimiter(client)
	rl.mutex.Unlock()
	return entry.limiter.AllowN(rl.now(), 1)
}

// Helper function to get a rate limiter from the map, creating a new one if necessary
func (rl *RateLimiter) getLimiter(key string) *limiterEntry {
	if entry, exists := rl.clientLimiters[key]; exists {
		entry.lastSeen = rl.now()
		return entry
	}

	entry := &limiterEntry{
		limiter:  rate.NewLimiter(rl.limit, rl.burst),
		lastSeen: rl.now(),
	}
	rl.clientLimiters[key] = entry
	return entry
}

// Cleanup function to remove old limiters
func (rl *RateLimiter) cleanupOldLimiters(ctx context.Context) {
	ticker := time.NewTicker(idleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	for key, entry := range rl.clientLimiters {
		if rl.now().Sub(entry.lastSeen) > idleTimeout {
			delete(rl.clientLimiters, key)
		}
	}
}

// Clients is the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.clientLimiters)
}
