package ratelimit

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"hermes-backend/internal/monitoring"
)

// KeyFunc derives the rate-limit key for a request.
type KeyFunc func(c *fiber.Ctx) string

// DefaultKey keys by API key when the client presents one, else by client IP.
func DefaultKey(c *fiber.Ctx) string {
	if k := c.Get("X-Api-Key"); k != "" {
		return "key:" + k
	}
	return "ip:" + c.IP()
}

// Middleware rejects requests over budget with 429 before any validation or
// fan-out work happens. Allowed requests carry X-RateLimit-Remaining so
// clients can pace themselves.
func Middleware(limiter Limiter, opts Options, keyFn KeyFunc, metrics *monitoring.Metrics) fiber.Handler {
	if keyFn == nil {
		keyFn = DefaultKey
	}
	return func(c *fiber.Ctx) error {
		key := keyFn(c)
		decision := limiter.Check(key, opts)
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			metrics.RateLimitDenied(c.Route().Path, keyKind(key))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "rate_limited",
			})
		}
		return c.Next()
	}
}

// keyKind strips the key's value, keeping only its class ("ip", "key") for
// metric labels.
func keyKind(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}
