package medx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/medx/internal/reliability"
)

// keyCaller bounds key service calls with a per-call timeout and retries
// the retryable ones.
type keyCaller struct {
	timeout time.Duration
	retry   *reliability.RetryExecutor
}

func newKeyCaller(o options) keyCaller {
	policy := reliability.NewExponentialBackoffPolicy(reliability.RetryConfig{
		MaxAttempts:  o.retry.MaxAttempts,
		InitialDelay: o.retry.InitialDelay,
		MaxDelay:     o.retry.MaxDelay,
		Multiplier:   2,
		Jitter:       0.1,
		ShouldRetry: func(err error, attempt int) bool {
			return IsRetryableError(err)
		},
	})
	executor := reliability.NewRetryExecutor(policy)
	logger := o.logger
	executor.SetOnRetryCallback(func(attempt int, delay time.Duration, err error) {
		logger.Warn("retrying key service call",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	})
	return keyCaller{timeout: o.callTimeout, retry: executor}
}

// call runs fn once. A deadline hit maps to ErrKeyServiceUnavailable.
func (c keyCaller) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrKeyServiceUnavailable) {
		return fmt.Errorf("%w: %w", ErrKeyServiceUnavailable, err)
	}
	return err
}

// callWithRetry runs fn with backoff while it fails with a retryable error.
func (c keyCaller) callWithRetry(ctx context.Context, fn func(context.Context) error) error {
	return c.retry.Execute(ctx, func(ctx context.Context) error {
		return c.call(ctx, fn)
	})
}

func newRecordID() string {
	return uuid.NewString()
}

type nopAuditHook struct{}

func (nopAuditHook) OnDecryptDenied(context.Context, Principal, EntityType, string, string, error) {}
func (nopAuditHook) OnAccessDenied(context.Context, Principal, EntityType, Action, error) {}
