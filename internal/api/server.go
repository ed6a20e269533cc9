// Package api serves the project builder's HTTP API.
package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/p-blackswan/project-builder/internal/agentstate"
	"github.com/p-blackswan/project-builder/internal/health"
	"github.com/p-blackswan/project-builder/internal/integrations"
	"github.com/p-blackswan/project-builder/internal/metrics"
	"github.com/p-blackswan/project-builder/internal/projects"
	"github.com/p-blackswan/project-builder/internal/realtime"
	"github.com/p-blackswan/project-builder/internal/requestid"
	"github.com/p-blackswan/project-builder/internal/workspace"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins []string
	// EventsHeartbeat is how often an idle event stream is pinged.
	EventsHeartbeat time.Duration
}

// Deps are the services the handlers call.
type Deps struct {
	Projects     *projects.Service
	Workspace    *workspace.Workspace
	Agents       agentstate.Store
	Hub          *realtime.Hub
	Integrations *integrations.Aggregator
	Checker      *health.Checker
	Metrics      *metrics.Metrics
}

// Server is the API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures the API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "api_server").Logger(),
		config: cfg,
	}

	s.setupMiddleware(cfg, deps.Metrics, logger)
	s.setupRoutes(NewHandlers(deps, cfg.EventsHeartbeat, logger), deps)

	return s
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

func (s *Server) setupMiddleware(cfg ServerConfig, m *metrics.Metrics, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID, reused from the caller when present and forwarded to n8n.
	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.Resolve(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		c.Locals(localRequestID, reqID)
		return c.Next()
	})

	if len(cfg.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(cfg.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.Auth, logger))

	// Audit log and request metrics.
	s.app.Use(func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		if m != nil {
			m.RecordHTTP(c.Method(), c.Route().Path, status, time.Since(start).Seconds())
		}
		logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Str("ip", c.IP()).
			Str("request_id", localString(c, localRequestID)).
			Dur("duration", time.Since(start)).
			Msg("api request")
		return err
	})
}

func (s *Server) setupRoutes(h *Handlers, deps Deps) {
	// Probe endpoints (auth skipped in the middleware)
	s.app.Get("/healthz", health.Liveness)
	if deps.Checker != nil {
		s.app.Get("/readyz", deps.Checker.Readiness())
	} else {
		s.app.Get("/readyz", health.Liveness)
	}
	if deps.Metrics != nil {
		promHandler := fasthttpadaptor.NewFastHTTPHandler(deps.Metrics.Handler())
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			promHandler(c.Context())
			return nil
		})
	}

	v1 := s.app.Group("/api/v1")

	v1.Get("/projects", h.ListProjects)
	v1.Post("/projects", h.CreateProject)
	v1.Get("/projects/:id", h.GetProject)
	v1.Put("/projects/:id", h.UpdateProject)
	v1.Post("/projects/:id", h.ProjectAction)
	v1.Get("/projects/:id/events", h.StreamEvents)

	v1.Get("/projects/:id/canvas", h.GetCanvas)
	v1.Patch("/projects/:id/canvas", h.EditCanvas)
	v1.Delete("/projects/:id/canvas", h.DiscardCanvas)
	v1.Put("/projects/:id/canvas/type", h.SetCanvasType)
	v1.Post("/projects/:id/canvas/save", h.SaveCanvas)

	v1.Get("/agent/:session", h.GetAgentState)
	v1.Patch("/agent/:session", h.PatchAgentState)

	v1.Get("/integrations", h.GetIntegrations)
	v1.Post("/integrations", h.IntegrationAction)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("api server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("api server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "An internal error occurred"
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			msg = e.Message
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Int("status", code).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unhandled error")
		}
		return errorResponse(c, code, msg)
	}
}
