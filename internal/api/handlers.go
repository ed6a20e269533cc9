package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-builder/internal/agentstate"
	"github.com/p-blackswan/project-builder/internal/integrations"
	"github.com/p-blackswan/project-builder/internal/projects"
	"github.com/p-blackswan/project-builder/internal/realtime"
	"github.com/p-blackswan/project-builder/internal/workspace"
)

const msgProjectNotFound = "Project not found"

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	projects     *projects.Service
	workspace    *workspace.Workspace
	agents       agentstate.Store
	hub          *realtime.Hub
	integrations *integrations.Aggregator
	validate     *validator.Validate
	heartbeat    time.Duration
	logger       zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, heartbeat time.Duration, logger zerolog.Logger) *Handlers {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Handlers{
		projects:     deps.Projects,
		workspace:    deps.Workspace,
		agents:       deps.Agents,
		hub:          deps.Hub,
		integrations: deps.Integrations,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		heartbeat:    heartbeat,
		logger:       logger.With().Str("component", "handlers").Logger(),
	}
}

// fail writes err as an error response.
func (h *Handlers) fail(c *fiber.Ctx, err error, notFound string) error {
	status, msg := classify(err, notFound)
	ev := h.logger.Debug()
	if status >= fiber.StatusInternalServerError {
		ev = h.logger.Error()
	}
	ev.Err(err).Int("status", status).Str("path", c.Path()).Msg("request failed")
	return errorResponse(c, status, msg)
}

// bind parses the JSON body into dst and validates it. An empty body leaves
// dst untouched.
func (h *Handlers) bind(c *fiber.Ctx, dst any) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return errors.New("invalid request body")
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		return errors.New(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", e.Field(), e.Tag(), e.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", e.Field(), e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// userID returns the authenticated caller, or "" for the service default.
func userID(c *fiber.Ctx) string {
	return localString(c, localUserID)
}

type createResponse struct {
	*projects.Project
	Message string `json:"message"`
}

type actionRequest struct {
	Action string `json:"action" validate:"max=64"`
}

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	list, err := h.projects.List(c.UserContext(), projects.ListFilter{
		Status: c.Query("status"),
		Limit:  c.QueryInt("limit"),
	})
	if err != nil {
		return h.fail(c, err, msgProjectNotFound)
	}
	return c.JSON(list)
}

// CreateProject handles POST /api/v1/projects.
func (h *Handlers) CreateProject(c *fiber.Ctx) error {
	var req projects.CreateRequest
	if err := h.bind(c, &req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}
	if uid := userID(c); uid != "" {
		req.UserID = uid
	}

	p, err := h.projects.Create(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err, msgProjectNotFound)
	}
	return c.Status(fiber.StatusCreated).JSON(createResponse{Project: p, Message: "Project created successfully"})
}

// GetProject handles GET /api/v1/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	p, err := h.projects.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err, msgProjectNotFound)
	}
	return c.JSON(p)
}

// UpdateProject handles PUT /api/v1/projects/:id.
func (h *Handlers) UpdateProject(c *fiber.Ctx) error {
	body := make(map[string]any)
	if err := c.BodyParser(&body); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	record, err := h.projects.UpdateBrief(c.UserContext(), c.Params("id"), body, userID(c))
	if err != nil {
		return h.fail(c, err, msgProjectNotFound)
	}
	return c.JSON(record)
}

// ProjectAction handles POST /api/v1/projects/:id. A failed automation
// answers with its result so the client sees what was attempted.
func (h *Handlers) ProjectAction(c *fiber.Ctx) error {
	var req actionRequest
	if err := h.bind(c, &req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	res, err := h.projects.RunAction(c.UserContext(), c.Params("id"), req.Action, userID(c))
	if err != nil {
		if res == nil {
			return h.fail(c, err, msgProjectNotFound)
		}
		status, _ := classify(err, msgProjectNotFound)
		if status < fiber.StatusInternalServerError {
			status = fiber.StatusBadGateway
		}
		h.logger.Warn().Err(err).Str("project", res.ProjectID).Str("action", res.Action).Msg("action failed")
		return c.Status(status).JSON(res)
	}
	return c.JSON(res)
}
