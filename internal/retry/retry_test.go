package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	perrors "github.com/p-blackswan/project-builder/internal/errors"
	"github.com/stretchr/testify/assert"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NonRetryableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return perrors.NewAPIError("n8n", 400, "bad payload")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryableError_EventualSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return perrors.NewAPIError("n8n", 503, "warming up")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoCounted_ReportsAttempts(t *testing.T) {
	var reported int
	err := DoCounted(context.Background(), fastConfig(2), func(ctx context.Context) error {
		return perrors.ErrTimeout
	}, func(n int) { reported = n })
	assert.ErrorIs(t, err, perrors.ErrTimeout)
	assert.Equal(t, 2, reported)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Second}
	err := Do(ctx, cfg, func(ctx context.Context) error {
		return perrors.ErrUnavailable
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_ZeroAttemptsStillCallsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{}, func(ctx context.Context) error {
		calls++
		return errors.New("generic error")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
