package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/response"
)

// RateLimiter is a fixed-window per-IP limiter kept in Redis, so every server
// process shares one budget per client.
type RateLimiter struct {
	rdb      *redis.Client
	rate     int           // requests per window
	interval time.Duration // window length
	log      zerolog.Logger
}

// NewRateLimiter creates a RateLimiter (e.g., 10 requests per minute).
func NewRateLimiter(rdb *redis.Client, rate int, interval time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		rate:     rate,
		interval: interval,
		log:      log.With().Str("component", "ratelimit").Logger(),
	}
}

// Middleware returns a Gin middleware that rate-limits requests by IP. When
// Redis is unreachable requests are let through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}

		now := time.Now()
		window := now.UnixNano() / int64(rl.interval)
		key := config.CacheKey.LoginRateKey(c.ClientIP(), window)

		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, rl.interval)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			rl.log.Warn().Err(err).Msg("Rate limit check failed, allowing request")
			c.Next()
			return
		}

		if n := incr.Val(); n > int64(rl.rate) {
			reset := time.Duration(window+1)*rl.interval - time.Duration(now.UnixNano())
			response.AbortFailRetryAfter(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded, reset.Truncate(time.Second)+time.Second)
			return
		}
		c.Next()
	}
}
