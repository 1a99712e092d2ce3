package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/Veraticus/tripwire/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrors(t *testing.T) {
	cfgErr := fmt.Errorf("save category: %w", NewConfigurationError("thresholds", "alert exceeds investigation"))
	assert.ErrorIs(t, cfgErr, ErrInvalidConfig)
	var ce *ConfigurationError
	require.ErrorAs(t, cfgErr, &ce)
	assert.Equal(t, "thresholds", ce.Field)

	nf := NewNotFoundError("violation", "abc")
	assert.ErrorIs(t, nf, ErrNotFound)
	assert.Contains(t, nf.Error(), `violation "abc" not found`)

	conflict := &ConflictError{ID: "v1", ExpectedVersion: 2, ActualVersion: 3}
	assert.ErrorIs(t, conflict, ErrConflict)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimit))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, IsRetryable(Permanent(errors.New("bad request"))))
	assert.True(t, IsRetryable(&RetryableError{Err: errors.New("503"), Retryable: true}))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestWithRetry(t *testing.T) {
	opts := service.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}, opts)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("invalid api key")
		err := WithRetry(context.Background(), func() error {
			calls++
			return Permanent(sentinel)
		}, opts)
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		named := opts
		named.Operation = "assess_violation"
		err := WithRetry(context.Background(), func() error {
			return errors.New("always")
		}, named)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.Contains(t, err.Error(), "assess_violation")
	})

	t.Run("reports each retry", func(t *testing.T) {
		var attempts []int
		var reasons []string
		hooked := opts
		hooked.OnRetry = func(attempt int, err error) {
			attempts = append(attempts, attempt)
			reasons = append(reasons, RetryReason(err))
		}
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls == 1 {
				return &RateLimitError{Err: errors.New("429")}
			}
			return context.DeadlineExceeded
		}, hooked)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.Equal(t, []int{1, 2}, attempts)
		assert.Equal(t, []string{"rate_limited", "timeout"}, reasons)
	})

	t.Run("honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WithRetry(ctx, func() error {
			return errors.New("transient")
		}, service.RetryOptions{MaxAttempts: 5, InitialDelay: time.Second})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRateLimitDelay(t *testing.T) {
	ceiling := 30 * time.Second
	withHint := fmt.Errorf("classify: %w", &RateLimitError{RetryAfter: 2 * time.Second, Err: errors.New("429")})
	assert.Equal(t, 2*time.Second, rateLimitDelay(withHint, ceiling))
	assert.Equal(t, ceiling, rateLimitDelay(&RateLimitError{Err: errors.New("429")}, ceiling))
	assert.Equal(t, ceiling, rateLimitDelay(&RateLimitError{RetryAfter: time.Hour, Err: errors.New("429")}, ceiling))
	assert.ErrorIs(t, withHint, ErrRateLimit)
	assert.Contains(t, withHint.Error(), "retry after 2s")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, slog.LevelInfo, "json")
	require.NoError(t, err)
	logger.Info("analysis complete", "communication_id", "c-1")
	assert.Contains(t, buf.String(), `"communication_id":"c-1"`)

	_, err = NewLogger(&buf, slog.LevelInfo, "xml")
	assert.Error(t, err)
}

func TestLogHelpers(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, err := NewLogger(&buf, slog.LevelInfo, "json")
	require.NoError(t, err)
	slog.SetDefault(logger)

	LogInfo("ingested", Fields{"employees": 3})
	LogWarn("schema behind", Fields{"current": 2})
	LogError(errors.New("disk full"), "command failed", nil)

	out := buf.String()
	assert.Contains(t, out, `"employees":3`)
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"error":"disk full"`)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestCompilePattern(t *testing.T) {
	re, err := CompilePattern(`personal\s+(gmail|dropbox)`)
	require.NoError(t, err)
	assert.True(t, re.MatchString("Sending to my PERSONAL Gmail"))

	_, err = CompilePattern(`(unclosed`)
	assert.Error(t, err)
}
