package engine

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"hermes-backend/internal/event"
	"hermes-backend/internal/monitoring"
	"hermes-backend/internal/webhook"
)

// SyncHandler owns POST /api/sync: validate the webhook, fan it out, map the
// outcome to a status code.
type SyncHandler struct {
	validator *webhook.Validator
	orch      *Orchestrator
	metrics   *monitoring.Metrics
}

func NewSyncHandler(v *webhook.Validator, orch *Orchestrator, metrics *monitoring.Metrics) *SyncHandler {
	return &SyncHandler{validator: v, orch: orch, metrics: metrics}
}

// RegisterSyncRoutes adds the webhook intake route. The group is scoped to
// the route itself so middleware (the rate limiter) never gates sibling
// /api surfaces.
func RegisterSyncRoutes(app *fiber.App, h *SyncHandler, middleware ...fiber.Handler) {
	api := app.Group("/api/sync", middleware...)
	api.Post("/", h.Sync)
}

// Sync handles POST /api/sync?action=<action>
func (h *SyncHandler) Sync(c *fiber.Ctx) error {
	in := inboundFromRequest(c)

	ev, verr := h.validator.Validate(in)
	if verr != nil {
		status := validationStatus(verr)
		h.metrics.ValidationFailure(string(verr.Kind))
		h.metrics.SyncRequest(actionLabel(in.Action), status)
		log.Printf("WARN: rejected webhook from %s: %s", in.SourceIP, verr.Message)
		return respondValidation(c, verr)
	}

	outcome := h.orch.Sync(c.Context(), ev)
	status := fiber.StatusOK
	if !outcome.AllSucceeded {
		status = fiber.StatusInternalServerError
		log.Printf("WARN: incomplete sync for delivery %s (%s): %s",
			ev.DeliveryID, ev.Inbound.Action, outcome.OverallKind)
	}
	h.metrics.SyncRequest(string(ev.Inbound.Action), status)
	return respondOutcome(c, ev.Inbound.Action, outcome)
}

// inboundFromRequest snapshots the request. The body is copied because fiber
// reuses its buffers once the handler returns.
func inboundFromRequest(c *fiber.Ctx) event.Inbound {
	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	headers := make(map[string]string)
	for k, vals := range c.GetReqHeaders() {
		if len(vals) > 0 {
			headers[k] = vals[0]
		}
	}

	return event.Inbound{
		Action:     event.Action(c.Query("action")),
		Body:       body,
		SourceIP:   c.IP(),
		Headers:    headers,
		ReceivedAt: time.Now().UTC(),
	}
}

// actionLabel keeps metric cardinality bounded: arbitrary junk in the action
// parameter must not mint new label values.
func actionLabel(a event.Action) string {
	if a.Supported() {
		return string(a)
	}
	return "unknown"
}
