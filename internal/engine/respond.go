package engine

import (
	"github.com/gofiber/fiber/v2"

	"hermes-backend/internal/event"
	"hermes-backend/internal/webhook"
)

// validationStatus maps a rejection to its HTTP status. Signature failures
// are an authentication problem, everything else is a payload problem.
func validationStatus(verr *webhook.ValidationError) int {
	if verr.Kind == webhook.KindSignatureMismatch {
		return fiber.StatusForbidden
	}
	return fiber.StatusUnprocessableEntity
}

// respondValidation writes the rejection body. A 403 deliberately says
// nothing about why authentication failed.
func respondValidation(c *fiber.Ctx, verr *webhook.ValidationError) error {
	status := validationStatus(verr)
	if status == fiber.StatusForbidden {
		return c.Status(status).JSON(fiber.Map{
			"success": false,
			"error":   "unauthorized",
		})
	}

	body := fiber.Map{
		"success": false,
		"error":   verr.Message,
		"kind":    verr.Kind,
	}
	if verr.Field != "" {
		body["field"] = verr.Field
	}
	return c.Status(status).JSON(body)
}

// respondOutcome writes the fan-out result. Partial success is still a 500:
// the source redelivers and the already-synced targets absorb the repeat
// upsert.
func respondOutcome(c *fiber.Ctx, action event.Action, outcome Outcome) error {
	if outcome.AllSucceeded {
		return c.JSON(fiber.Map{
			"success": true,
			"action":  action,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   "Failed to sync",
		"kind":    outcome.OverallKind,
		"detail":  outcome.PerTarget,
	})
}
