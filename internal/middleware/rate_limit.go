package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"telecare/internal/utils"
	"telecare/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     float64
	burst    float64
	idle     time.Duration
	now      func() time.Time
}

type visitor struct {
	tokens   float64
	last     time.Time
	lastSeen time.Time
}

// NewRateLimiter allows rate requests per second with the given burst
func NewRateLimiter(rate, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     float64(rate),
		burst:    float64(burst),
		idle:     3 * time.Minute,
		now:      time.Now,
	}
}

// Allow takes one token from the bucket of key
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{tokens: rl.burst, last: now}
		rl.visitors[key] = v
	}

	v.tokens += now.Sub(v.last).Seconds() * rl.rate
	if v.tokens > rl.burst {
		v.tokens = rl.burst
	}
	v.last = now
	v.lastSeen = now

	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

// Cleanup drops idle visitors until ctx is done
func (rl *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.prune()
		}
	}
}

func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.visitors, key)
		}
	}
}

// RateLimit rejects requests over the limiter's budget with 429
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	limit := strconv.Itoa(int(limiter.rate))

	return func(c *gin.Context) {
		c.Header("X-RateLimit-Limit", limit)

		if !limiter.Allow(clientKey(c)) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			utils.ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		c.Next()
	}
}

// clientKey prefers the authenticated user over the client address
func clientKey(c *gin.Context) string {
	if userID := c.GetString(ContextUserID); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

// RequestLogger logs every request through the structured logger
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.LogRequest(c.Request.Method, path, c.ClientIP(), time.Since(start), c.Writer.Status())

		if len(c.Errors) > 0 {
			logger.WithFields(logrus.Fields{
				"path":   path,
				"errors": c.Errors.String(),
			}).Warn("Request finished with errors")
		}
	}
}
