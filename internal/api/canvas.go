package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/project-builder/internal/agentstate"
	"github.com/p-blackswan/project-builder/internal/canvas"
	"github.com/p-blackswan/project-builder/internal/reconcile"
)

type sessionRequest struct {
	Session string `json:"session" query:"session" validate:"required,max=128"`
}

type editRequest struct {
	Session string `json:"session" validate:"required,max=128"`
	FieldID string `json:"field_id" validate:"required,max=64"`
	Value   any    `json:"value"`
}

type typeRequest struct {
	Session     string  `json:"session" validate:"required,max=128"`
	ProjectType *string `json:"project_type"`
}

// canvasResponse is a reconciled canvas plus whether the agent's extracted
// brief took part in it.
type canvasResponse struct {
	*reconcile.ViewModel
	AgentAccepted bool `json:"agentAccepted"`
}

func canvasJSON(c *fiber.Ctx, res reconcile.Result) error {
	return c.JSON(canvasResponse{ViewModel: res.View, AgentAccepted: res.AgentAccepted})
}

// GetCanvas handles GET /api/v1/projects/:id/canvas?session=.
func (h *Handlers) GetCanvas(c *fiber.Ctx) error {
	var req sessionRequest
	if err := c.QueryParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid query")
	}
	if err := h.validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, validationMessage(err))
	}

	res, err := h.workspace.View(c.UserContext(), req.Session, c.Params("id"))
	if err != nil {
		return h.fail(c, err, msgProjectNotFound)
	}
	return canvasJSON(c, res)
}

// EditCanvas handles PATCH /api/v1/projects/:id/canvas.
func (h *Handlers) EditCanvas(c *fiber.Ctx) error {
	var req editRequest
	if err := h.bind(c, &req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	res, err := h.workspace.Edit(c.UserContext(), req.Session, c.Params("id"), req.FieldID, req.Value)
	if err != nil {
		return h.fail(c, err, msgProjectNotFound)
	}
	return canvasJSON(c, res)
}

// SetCanvasType handles PUT /api/v1/projects/:id/canvas/type. A null
// project_type unpins the type.
func (h *Handlers) SetCanvasType(c *fiber.Ctx) error {
	var req typeRequest
	if err := h.bind(c, &req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	var pinned *canvas.ProjectType
	if req.ProjectType != nil {
		t := canvas.ProjectType(*req.ProjectType)
		pinned = &t
	}
	res, err := h.workspace.SetType(c.UserContext(), req.Session, c.Params("id"), pinned)
	if err != nil {
		return h.fail(c, err, msgProjectNotFound)
	}
	return canvasJSON(c, res)
}

// SaveCanvas handles POST /api/v1/projects/:id/canvas/save.
func (h *Handlers) SaveCanvas(c *fiber.Ctx) error {
	var req sessionRequest
	if err := h.bind(c, &req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	res, err := h.workspace.Save(c.UserContext(), req.Session, c.Params("id"), userID(c))
	if err != nil {
		return h.fail(c, err, msgProjectNotFound)
	}
	return canvasJSON(c, res)
}

// DiscardCanvas handles DELETE /api/v1/projects/:id/canvas?session=.
func (h *Handlers) DiscardCanvas(c *fiber.Ctx) error {
	var req sessionRequest
	if err := c.QueryParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid query")
	}
	if err := h.validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, validationMessage(err))
	}

	res, err := h.workspace.Discard(c.UserContext(), req.Session, c.Params("id"))
	if err != nil {
		return h.fail(c, err, msgProjectNotFound)
	}
	return canvasJSON(c, res)
}

// GetAgentState handles GET /api/v1/agent/:session. An unknown session
// reads as an empty state.
func (h *Handlers) GetAgentState(c *fiber.Ctx) error {
	state, _ := h.agents.Read(c.Params("session"))
	return c.JSON(state)
}

// PatchAgentState handles PATCH /api/v1/agent/:session.
func (h *Handlers) PatchAgentState(c *fiber.Ctx) error {
	var patch agentstate.Patch
	if err := c.BodyParser(&patch); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	return c.JSON(h.agents.Write(c.Params("session"), patch))
}
