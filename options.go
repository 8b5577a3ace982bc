package medx

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// RetrySettings controls retries of key generation and encryption calls.
// Decryption is never retried.
type RetrySettings struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

type options struct {
	logger         *slog.Logger
	sealer         KeySealer
	audit          AuditHook
	callTimeout    time.Duration
	maxConcurrency int
	retry          RetrySettings
	newID          func() string
}

func defaultOptions() options {
	return options{
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		sealer:         NoopSealer{},
		audit:          nopAuditHook{},
		callTimeout:    DefaultCallTimeout,
		maxConcurrency: DefaultMaxConcurrency,
		retry: RetrySettings{
			MaxAttempts:  DefaultRetryMaxAttempts,
			InitialDelay: DefaultRetryInitialDelay,
			MaxDelay:     DefaultRetryMaxDelay,
		},
		newID: newRecordID,
	}
}

func applyOptions(opts []Option) (options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return options{}, err
		}
	}
	return o, nil
}

// Option configures an Orchestrator, Provisioner or Service.
type Option func(o *options) error

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return fmt.Errorf("%w: logger is nil", ErrInvalidConfiguration)
		}
		o.logger = logger
		return nil
	}
}

// WithKeySealer protects stored secret key halves with sealer.
func WithKeySealer(sealer KeySealer) Option {
	return func(o *options) error {
		if sealer == nil {
			return fmt.Errorf("%w: key sealer is nil", ErrInvalidConfiguration)
		}
		o.sealer = sealer
		return nil
	}
}

func WithAuditHook(hook AuditHook) Option {
	return func(o *options) error {
		if hook == nil {
			return fmt.Errorf("%w: audit hook is nil", ErrInvalidConfiguration)
		}
		o.audit = hook
		return nil
	}
}

// WithCallTimeout bounds every key service call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("%w: call timeout must be positive, got %s", ErrInvalidConfiguration, d)
		}
		o.callTimeout = d
		return nil
	}
}

// WithMaxConcurrency bounds the number of key service calls in flight per
// operation.
func WithMaxConcurrency(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("%w: max concurrency must be positive, got %d", ErrInvalidConfiguration, n)
		}
		o.maxConcurrency = n
		return nil
	}
}

func WithRetry(settings RetrySettings) Option {
	return func(o *options) error {
		if settings.MaxAttempts <= 0 {
			return fmt.Errorf("%w: retry attempts must be positive, got %d", ErrInvalidConfiguration, settings.MaxAttempts)
		}
		o.retry = settings
		return nil
	}
}

// WithIDGenerator replaces the record ID generator used by Service.Create.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) error {
		if fn == nil {
			return fmt.Errorf("%w: id generator is nil", ErrInvalidConfiguration)
		}
		o.newID = fn
		return nil
	}
}
