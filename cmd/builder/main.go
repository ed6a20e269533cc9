package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/project-builder/internal/agentstate"
	"github.com/p-blackswan/project-builder/internal/api"
	"github.com/p-blackswan/project-builder/internal/config"
	"github.com/p-blackswan/project-builder/internal/health"
	"github.com/p-blackswan/project-builder/internal/integrations"
	"github.com/p-blackswan/project-builder/internal/metrics"
	"github.com/p-blackswan/project-builder/internal/n8n"
	"github.com/p-blackswan/project-builder/internal/projects"
	"github.com/p-blackswan/project-builder/internal/realtime"
	"github.com/p-blackswan/project-builder/internal/reconcile"
	"github.com/p-blackswan/project-builder/internal/retry"
	"github.com/p-blackswan/project-builder/internal/slack"
	"github.com/p-blackswan/project-builder/internal/store"
	"github.com/p-blackswan/project-builder/internal/workspace"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("auth_mode", cfg.AuthMode).
		Str("n8n", cfg.N8NBaseURL).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting project builder")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, err := store.New(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open store")
	}
	defer st.Close()

	m := metrics.New()
	hub := realtime.NewHub(cfg.RealtimeBuffer, m, logger)

	webhooks := n8n.NewClient(cfg.N8NBaseURL, cfg.N8NTimeout, logger)
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.N8NRetries
	webhooks.SetRetry(rc)
	webhooks.SetObserver(m)

	checker := health.NewChecker(logger)
	checker.Register("sqlite", func(ctx context.Context) health.Status {
		if err := st.Ping(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	opts := []projects.Option{projects.WithPublisher(hub), projects.WithMetrics(m)}
	if cfg.SlackEnabled() {
		notifier := slack.NewNotifier(cfg.SlackBotToken, cfg.SlackNotifyInterval, logger)
		opts = append(opts, projects.WithNotifier(notifier))
		// Slack only carries optional summaries, so an outage degrades
		// rather than fails readiness.
		checker.Register("slack", func(ctx context.Context) health.Status {
			if err := notifier.Check(ctx); err != nil {
				return health.StatusDegraded
			}
			return health.StatusOK
		})
	} else {
		logger.Info().Msg("Slack not configured, brief-sync summaries disabled")
	}
	svc := projects.NewService(st, webhooks, logger, opts...)

	agents := agentstate.NewMemory(cfg.SessionCacheSize, logger)
	reconciler := reconcile.New(cfg.ReconcileCacheSize,
		reconcile.WithObserver(m),
		reconcile.WithLogger(logger),
	)
	ws := workspace.New(svc, agents, reconciler, hub, cfg.SessionCacheSize, logger)

	panel := integrations.New(st, svc, webhooks, integrations.Options{
		UserRole:     cfg.IntegrationsUserRole,
		HealthWindow: cfg.IntegrationsHealthWindow,
		User:         svc.User(),
	}, logger)

	server := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		Auth: api.AuthConfig{
			Mode:      cfg.AuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		RateLimit:   api.RateLimitConfig{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		CORSOrigins: cfg.CORSOriginList(),
	}, api.Deps{
		Projects:     svc,
		Workspace:    ws,
		Agents:       agents,
		Hub:          hub,
		Integrations: panel,
		Checker:      checker,
		Metrics:      m,
	}, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runRetention(ctx, st, cfg.ActivityRetention, cfg.RetentionInterval, logger)
	}()

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("api server error")
			sigCh <- syscall.SIGTERM
		}
	}()

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	cancel()

	// Close the hub first so open event streams end and the server can drain.
	hub.Close()
	ws.Close()
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("project builder stopped")
}

// runRetention expires old activity rows every interval until ctx ends. A
// zero maxAge keeps activity forever.
func runRetention(ctx context.Context, st *store.Store, maxAge, interval time.Duration, logger zerolog.Logger) {
	if maxAge <= 0 || interval <= 0 {
		return
	}
	logger = logger.With().Str("component", "retention").Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := st.RunRetention(ctx, maxAge); err != nil {
				logger.Error().Err(err).Msg("activity retention failed")
				continue
			}
			if size, err := st.DBSizeBytes(); err == nil {
				logger.Debug().Int64("bytes", size).Msg("database size")
			}
		}
	}
}
