package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // sustained requests per second
	Burst int // requests allowed in one window
}

// window returns the span in which Burst requests average out to RPS.
func (cfg RateLimitConfig) window() time.Duration {
	burst := cfg.Burst
	if burst < cfg.RPS {
		burst = cfg.RPS
	}
	return time.Duration(float64(time.Second) * float64(burst) / float64(cfg.RPS))
}

// NewRateLimitMiddleware returns a per-client sliding window rate limiter.
func NewRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	limit := cfg.Burst
	if limit < cfg.RPS {
		limit = cfg.RPS
	}
	return limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        cfg.window(),
		LimiterMiddleware: limiter.SlidingWindow{},
		Next: func(c *fiber.Ctx) bool {
			return isProbe(c.Path())
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return errorResponse(c, fiber.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
		},
	})
}
