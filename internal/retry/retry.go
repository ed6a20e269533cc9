// Package retry provides exponential backoff for calls to automation webhooks and Slack.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	perrors "github.com/p-blackswan/project-builder/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultConfig keeps the retry count small; callers surface failures to the user
// who can retry again from the integrations panel.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      true,
	}
}

// Attempts is called with the number of attempts made once Do returns.
type Attempts func(n int)

// Do executes fn with exponential backoff. Only retries if the error is retryable.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	return DoCounted(ctx, cfg, fn, nil)
}

// DoCounted is Do with a hook reporting how many attempts were made.
func DoCounted(ctx context.Context, cfg Config, fn func(ctx context.Context) error, report Attempts) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	attempt := 0
	defer func() {
		if report != nil {
			report(attempt)
		}
	}()

	for attempt < cfg.MaxAttempts {
		attempt++
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !perrors.IsRetryable(lastErr) || attempt == cfg.MaxAttempts {
			return lastErr
		}

		delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		if cfg.Jitter {
			delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
