package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	perrors "github.com/p-blackswan/project-builder/internal/errors"
)

// errorBody is the shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func errorResponse(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(errorBody{Error: msg})
}

// classify maps a service error to a status and a client-safe message.
// notFound is the message used when the resource does not exist.
func classify(err error, notFound string) (int, string) {
	switch {
	case perrors.IsNotFound(err):
		return fiber.StatusNotFound, notFound
	case errors.Is(err, perrors.ErrUnknownAction):
		return fiber.StatusBadRequest, "Unknown action"
	case perrors.IsInvalid(err):
		return fiber.StatusBadRequest, invalidReason(err)
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "Upstream request timed out"
	case perrors.IsUpstream(err):
		return fiber.StatusBadGateway, err.Error()
	}
	return fiber.StatusInternalServerError, "An internal error occurred"
}

// invalidReason strips the sentinel prefix from a validation error.
func invalidReason(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, perrors.ErrInvalidInput.Error()+": "); i >= 0 {
		return msg[i+len(perrors.ErrInvalidInput.Error())+2:]
	}
	return msg
}
