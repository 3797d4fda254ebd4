package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"skin-api/internal/ctx"
	"skin-api/internal/metrics"
	"skin-api/internal/shared"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateLimitTimeout = 500 * time.Millisecond

// NewRateLimitMiddleware allows limit requests per client ip in each fixed
// window. Counting failures let the request through.
func NewRateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration, log *zap.SugaredLogger) echo.MiddlewareFunc {
	log = shared.OrNop(log)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rdb == nil || limit <= 0 {
				return next(c)
			}
			logger := log
			if cc, ok := c.(*ctx.Context); ok {
				logger = cc.Log
			}

			now := time.Now()
			windowStart := now.Truncate(window).Unix()
			key := fmt.Sprintf("skin:v1:ratelimit:%s:%d", c.RealIP(), windowStart)

			rctx, cancel := context.WithTimeout(c.Request().Context(), rateLimitTimeout)
			defer cancel()
			count, err := rdb.Incr(rctx, key).Result()
			if err != nil {
				logger.Warnw("Rate limit check failed, allowing request", "error", err, "key", key)
				return next(c)
			}
			if count == 1 {
				if err := rdb.Expire(rctx, key, window).Err(); err != nil {
					logger.Warnw("Failed to set rate limit expiry", "error", err, "key", key)
				}
			}

			remaining := int64(limit) - count
			if remaining < 0 {
				remaining = 0
			}
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if count > int64(limit) {
				retryAfter := time.Unix(windowStart, 0).Add(window).Sub(now)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				metrics.RateLimited.WithLabelValues(c.Path()).Inc()
				logger.Infow("Rate limited", "count", count, "limit", limit)
				return c.JSON(shared.ErrTooManyRequests.StatusCode, shared.ErrorBody{
					Status:  "error",
					Message: shared.ErrTooManyRequests.Err.Error(),
				})
			}
			return next(c)
		}
	}
}
