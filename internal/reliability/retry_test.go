package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func runWithRetry(ctx context.Context, op func(context.Context) error, cfg RetryConfig) error {
	executor := NewRetryExecutor(NewExponentialBackoffPolicy(cfg))
	executor.SetOnRetryCallback(cfg.OnRetry)
	return executor.Execute(ctx, op)
}

func TestRetryExecutor_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := runWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, fastConfig())

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExecutor_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := runWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	}, fastConfig())

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryExecutor_ShouldRetryFilter(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := fastConfig()
	cfg.ShouldRetry = func(err error, attempt int) bool {
		return errors.Is(err, errTransient)
	}

	calls := 0
	err := runWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	}, cfg)

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestRetryExecutor_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		attempts = append(attempts, attempt)
	}

	_ = runWithRetry(context.Background(), func(ctx context.Context) error {
		return errTransient
	}, cfg)

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryExecutor_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	calls := 0
	err := runWithRetry(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errTransient
	}, cfg)

	assert.ErrorIs(t, err, errTransient, "the last operation error is kept on cancellation")
	assert.Equal(t, 1, calls)
}

func TestExponentialBackoffPolicy_NextDelay(t *testing.T) {
	p := NewExponentialBackoffPolicy(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2,
		Jitter:       0,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: -1, want: 0},
		{attempt: 0, want: 10 * time.Millisecond},
		{attempt: 1, want: 20 * time.Millisecond},
		{attempt: 2, want: 40 * time.Millisecond},
		{attempt: 3, want: 50 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffPolicy_Defaults(t *testing.T) {
	p := NewExponentialBackoffPolicy(RetryConfig{})
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, p.MaxAttempts())
	assert.True(t, p.ShouldRetry(errTransient, 0))
	assert.False(t, p.ShouldRetry(errTransient, p.MaxAttempts()-1))
}

func TestIsRetryableStatusCode(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsRetryableStatusCode(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404} {
		assert.False(t, IsRetryableStatusCode(code), "status %d", code)
	}
}
