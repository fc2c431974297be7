package middleware

import (
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/gema-grading/internal/utils"
)

// RateLimitConfig bounds how often one caller may hit a route group.
type RateLimitConfig struct {
	Name   string
	Max    int
	Window time.Duration
}

// RateLimit throttles per authenticated user, falling back to the client IP.
// Rejections use the standard error envelope with a retry hint.
func RateLimit(cfg RateLimitConfig) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	retryAfter := int(math.Ceil(cfg.Window.Seconds()))

	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: cfg.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return rateLimitKey(cfg.Name, c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, fmt.Sprint(retryAfter))
			return utils.Fail(c, fiber.StatusTooManyRequests, "too many grading requests", fiber.Map{
				"limit":               cfg.Max,
				"retry_after_seconds": retryAfter,
			})
		},
	})
}

func rateLimitKey(name string, c *fiber.Ctx) string {
	if identity := CurrentIdentity(c); identity.Authenticated() {
		return fmt.Sprintf("%s:user:%d", name, identity.UserID)
	}
	return fmt.Sprintf("%s:ip:%s", name, c.IP())
}
