package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"campusfeed/internal/observability"
)

const (
	rateLimitWindow     = time.Minute
	feedConnectResource = "feed_connect"
	feedConnectLimit    = 30
	commentResource     = "submit_comment"
	commentLimit        = 10
)

var errRateLimited = errors.New("rate limit exceeded")

// checkRateLimit counts one hit against resource for id in a fixed window.
// It reports whether the hit is within limit.
func checkRateLimit(ctx context.Context, rdb redis.UniversalClient, resource, id string, limit int, window time.Duration) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("rl:%s:%s", resource, id)

	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if cnt == 1 {
		rdb.Expire(ctx, key, window)
	}
	return cnt <= int64(limit), nil
}

// allow applies a per-user limit and fails open when Redis is missing or down.
func (s *Server) allow(ctx context.Context, resource string, userID uint, limit int) bool {
	if s.redis == nil {
		return true
	}
	ok, err := checkRateLimit(ctx, s.redis, resource, fmt.Sprintf("user:%d", userID), limit, rateLimitWindow)
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("rate_limit").Inc()
		observability.GlobalLogger.WarnContext(ctx, "rate limit unavailable, allowing request",
			slog.String("resource", resource),
			slog.String("error", err.Error()),
		)
		return true
	}
	return ok
}

// rateLimit returns a middleware enforcing limit hits per minute for the
// authenticated user. It must run after AuthRequired.
func (s *Server) rateLimit(resource string, limit int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("userID").(uint)
		if !s.allow(c.UserContext(), resource, userID, limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
				"code":  codeRateLimited,
			})
		}
		return c.Next()
	}
}
