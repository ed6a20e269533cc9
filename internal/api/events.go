package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/p-blackswan/project-builder/internal/realtime"
)

// StreamEvents handles GET /api/v1/projects/:id/events. It streams the
// project's change events as server-sent events until the client goes away
// or the hub shuts down.
func (h *Handlers) StreamEvents(c *fiber.Ctx) error {
	projectID := c.Params("id")
	if _, err := h.projects.Get(c.UserContext(), projectID); err != nil {
		return h.fail(c, err, msgProjectNotFound)
	}

	sub := h.hub.Subscribe(projectID)
	logger := h.logger.With().Str("project", projectID).Logger()
	heartbeat := h.heartbeat

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		logger.Debug().Msg("event stream opened")

		fmt.Fprint(w, ": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					logger.Debug().Msg("event stream closed by hub")
					return
				}
				if err := writeEvent(w, ev); err != nil {
					logger.Warn().Err(err).Msg("encoding event")
					continue
				}
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				logger.Debug().Err(err).Msg("event stream client gone")
				return
			}
		}
	}))
	return nil
}

func writeEvent(w *bufio.Writer, ev realtime.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}
