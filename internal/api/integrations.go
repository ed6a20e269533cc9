package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/project-builder/internal/integrations"
)

type integrationRequest struct {
	Action    string `json:"action" validate:"required,max=64"`
	ServiceID string `json:"serviceId" validate:"max=64"`
	ProjectID string `json:"projectId" validate:"max=128"`
	EventID   string `json:"eventId" validate:"max=128"`
}

// GetIntegrations handles GET /api/v1/integrations.
func (h *Handlers) GetIntegrations(c *fiber.Ctx) error {
	overview, err := h.integrations.Overview(c.UserContext())
	if err != nil {
		return h.fail(c, err, "Not found")
	}
	return c.JSON(overview)
}

// IntegrationAction handles POST /api/v1/integrations. Provisioning failures
// answer 500 with the action result.
func (h *Handlers) IntegrationAction(c *fiber.Ctx) error {
	var req integrationRequest
	if err := h.bind(c, &req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Unknown action")
	}
	ctx := c.UserContext()

	switch req.Action {
	case integrations.ActionSyncService:
		res, err := h.integrations.SyncService(ctx, req.ServiceID, req.ProjectID, userID(c))
		if err != nil {
			if res != nil && res.Result != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(res.Result)
			}
			return h.fail(c, err, msgProjectNotFound)
		}
		return c.JSON(res)

	case integrations.ActionRetryEvent:
		res, err := h.integrations.RetryEvent(ctx, req.EventID, userID(c))
		if err != nil {
			if res != nil && res.Result != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(res.Result)
			}
			return h.fail(c, err, "Event not found")
		}
		return c.JSON(res)

	case integrations.ActionTestWebhook:
		if err := h.integrations.TestWebhook(ctx, req.ServiceID); err != nil {
			h.logger.Warn().Err(err).Str("service", req.ServiceID).Msg("webhook test failed")
			return errorResponse(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"success": true})
	}

	if integrations.IsNoop(req.Action) {
		return c.JSON(fiber.Map{"success": true})
	}
	return errorResponse(c, fiber.StatusBadRequest, "Unknown action")
}
