package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/tripwire/internal/service"
)

var (
	// ErrRateLimit indicates that the API rate limit has been exceeded.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrMaxRetries indicates that all retry attempts have been exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return &RetryableError{Err: err, Retryable: false}
}

// RateLimitError is a throttled reply. RetryAfter is the wait the provider
// asked for, zero when it gave none.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v: %v (retry after %s)", ErrRateLimit, e.Err, e.RetryAfter)
	}
	return fmt.Sprintf("%v: %v", ErrRateLimit, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// Is makes every RateLimitError match ErrRateLimit.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimit
}

// RetryReason labels why an attempt is being retried.
func RetryReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimit):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transient"
	}
}

func withRetryDefaults(opts service.RetryOptions) service.RetryOptions {
	if opts.Operation == "" {
		opts.Operation = "operation"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = 2.0
	}
	return opts
}

// rateLimitDelay is the wait before retrying a throttled call: the
// provider's Retry-After when present, MaxDelay otherwise, never above MaxDelay.
func rateLimitDelay(err error, maxDelay time.Duration) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 && rl.RetryAfter < maxDelay {
		return rl.RetryAfter
	}
	return maxDelay
}

// WithRetry executes an operation with exponential backoff. Errors marked
// Permanent and context cancellation stop the loop immediately. A
// rate-limited attempt waits as the provider asked instead of backing off.
func WithRetry(ctx context.Context, operation func() error, opts service.RetryOptions) error {
	opts = withRetryDefaults(opts)
	backoff := opts.InitialDelay

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		var retryableErr *RetryableError
		if errors.As(err, &retryableErr) && !retryableErr.Retryable {
			return retryableErr.Err
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		if attempt == opts.MaxAttempts {
			return fmt.Errorf("%s: %w after %d attempts: %w", opts.Operation, ErrMaxRetries, opts.MaxAttempts, err)
		}

		delay := backoff
		if errors.Is(err, ErrRateLimit) {
			delay = rateLimitDelay(err, opts.MaxDelay)
		}

		slog.Warn("Call failed, retrying",
			"operation", opts.Operation,
			"attempt", attempt,
			"max_attempts", opts.MaxAttempts,
			"reason", RetryReason(err),
			"delay", delay,
			"error", err)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		backoff = min(time.Duration(float64(backoff)*opts.Multiplier), opts.MaxDelay)
	}

	return ErrMaxRetries
}
