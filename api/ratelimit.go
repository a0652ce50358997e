package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "portscan:ratelimit:"

// fixedWindow counts a client's requests and starts the expiry only when the
// window opens, so later requests never push the reset further out. A key
// left without a TTL is given one.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if n == 1 or ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// rateLimiter is a fixed-window per-client request budget stored in Redis.
type rateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// allow records one request for client. It reports whether the request fits
// in the current window and how long until the window resets.
func (l *rateLimiter) allow(ctx context.Context, client string) (bool, time.Duration, error) {
	vals, err := fixedWindow.Run(ctx, l.client, []string{rateLimitKeyPrefix + client}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(vals) != 2 {
		return false, 0, fmt.Errorf("rate limit script returned %d values", len(vals))
	}
	return vals[0] <= l.limit, time.Duration(vals[1]) * time.Millisecond, nil
}

// retryAfter rounds the remaining window up to whole seconds, at least one.
func retryAfter(remaining time.Duration) string {
	secs := int64((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// RateLimitMiddleware allows each client IP at most limit requests per window.
func RateLimitMiddleware(client *redis.Client, limit int64, window time.Duration, logger *slog.Logger) gin.HandlerFunc {
	l := &rateLimiter{client: client, limit: limit, window: window}
	return func(c *gin.Context) {
		ok, remaining, err := l.allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Error("rate limiter redis error", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		if !ok {
			logger.Warn("rate limit exceeded", "client_ip", c.ClientIP(), "retry_after", remaining.String())
			c.Header("Retry-After", retryAfter(remaining))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
