package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "gitsnap/pkg/errors"
	"gitsnap/pkg/logger"
)

// Operation performs one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int
	// Backoff strategy to use between attempts
	Backoff BackoffStrategy
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before sleeping for the next attempt
	OnRetry func(attempt int, err error, delay time.Duration)
	// Logger for retry attempts
	Logger logger.Logger
}

// DefaultConfig returns the retry policy used for archive downloads:
// three attempts with exponential backoff starting at one second.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Logger:      logger.GetLogger(),
	}
}

// NewConfig builds a config with the given attempt count and base delay
func NewConfig(maxAttempts int, baseDelay time.Duration, log logger.Logger) *Config {
	backoff := DefaultExponentialBackoff()
	backoff.BaseDelay = baseDelay
	return &Config{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		RetryIf:     DefaultRetryIf,
		Logger:      log,
	}
}

// DefaultRetryIf retries typed errors classified as transient
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// a per-attempt deadline is reported as a typed timeout error by callers
		return errs.IsType(err, errs.ErrorTypeTimeout)
	}
	return errs.ShouldRetry(err)
}

// ExhaustedError is returned when every attempt failed with a retryable error
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do executes op until it succeeds, returns a non-retryable error,
// exhausts MaxAttempts, or ctx is cancelled.
func Do(ctx context.Context, op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		lastErr = err

		// cancellation of the parent context always wins over classification
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !retryIf(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		delay := time.Duration(0)
		if cfg.Backoff != nil {
			delay = cfg.Backoff.NextDelay(attempt)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		if cfg.Logger != nil {
			cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt":      attempt,
				"error":        err.Error(),
				"delay_ms":     delay.Milliseconds(),
				"max_attempts": maxAttempts,
			})
		}

		if err := Wait(ctx, delay); err != nil {
			return err
		}
	}

	if cfg.Logger != nil {
		cfg.Logger.WarnWithFields("max retry attempts exceeded", map[string]interface{}{
			"attempts":   maxAttempts,
			"last_error": lastErr.Error(),
		})
	}
	return &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

// DoWithResult executes an operation that returns a result with retry logic
func DoWithResult[T any](ctx context.Context, op func(ctx context.Context, attempt int) (T, error), cfg *Config) (T, error) {
	var result T
	err := Do(ctx, func(ctx context.Context, attempt int) error {
		var opErr error
		result, opErr = op(ctx, attempt)
		return opErr
	}, cfg)
	return result, err
}
