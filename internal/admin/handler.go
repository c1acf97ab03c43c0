package admin

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"hermes-backend/internal/auth"
	"hermes-backend/internal/breaker"
	"hermes-backend/internal/engine"
	"hermes-backend/internal/ratelimit"
)

// Handler serves the operations surface: circuit state and rate limiter
// counters.
type Handler struct {
	breakers *breaker.Set
	limiter  ratelimit.Limiter
}

func NewHandler(breakers *breaker.Set, limiter ratelimit.Limiter) *Handler {
	return &Handler{breakers: breakers, limiter: limiter}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/sync/circuits", h.ListCircuits)
	admin.Post("/sync/circuits/:target/reset", h.ResetCircuit)
	admin.Get("/sync/ratelimit", h.RateLimitMetrics)
}

// ListCircuits handles GET /api/_admin/sync/circuits
func (h *Handler) ListCircuits(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.breakers.Snapshots()})
}

// ResetCircuit handles POST /api/_admin/sync/circuits/:target/reset.
// Force-closing a circuit is an operator action taken after the target
// recovered out of band, so it is logged with the caller's identity.
func (h *Handler) ResetCircuit(c *fiber.Ctx) error {
	target := c.Params("target")
	if !h.breakers.Reset(target) {
		return engine.NotFoundError("circuit", target)
	}

	operator := "unknown"
	if user := auth.GetUser(c); user != nil {
		operator = user.ID
	}
	log.Printf("WARN: circuit %s force-closed by %s", target, operator)

	return c.JSON(fiber.Map{"data": h.breakers.Get(target).Snapshot()})
}

// RateLimitMetrics handles GET /api/_admin/sync/ratelimit
func (h *Handler) RateLimitMetrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.limiter.Metrics()})
}
