package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/relialab/docpipe/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxAttempts int) *retry.Config {
	return &retry.Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := &retry.Config{
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
	}

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{"first retry", 0, time.Second},
		{"second retry", 1, 2 * time.Second},
		{"third retry", 2, 4 * time.Second},
		{"fourth retry", 3, 8 * time.Second},
		{"capped", 4, 10 * time.Second},
		{"stays capped", 10, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, retry.CalculateDelay(tt.attempt, cfg))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"business rejection", appErrors.NewBusinessRejection("name.required", "blank"), false},
		{"invalid envelope", appErrors.NewInvalidEnvelope("no id"), false},
		{"retryable app error", appErrors.NewRetryable("db down", errors.New("conn refused")), true},
		{"plain error", errors.New("boom"), true},
		{"wrapped rejection", appErrors.NewRetryable("outer", appErrors.NewBusinessRejection("r", "m")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, retry.IsRetryable(tt.err))
		})
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableShortCircuits(t *testing.T) {
	calls := 0
	rejection := appErrors.NewBusinessRejection("content_type.unsupported", "not a pdf")

	err := retry.Do(context.Background(), fastConfig(5), func() error {
		calls++
		return rejection
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, appErrors.IsBusinessRejection(err))
}

func TestDo_MaxAttemptsExceeded(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastConfig(3), func() error {
		calls++
		return errors.New("still broken")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max attempts exceeded")
}

func TestDo_ContextCanceledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	cfg := &retry.Config{
		MaxAttempts:  5,
		InitialDelay: time.Hour, // never elapses; cancellation must win
		Multiplier:   2.0,
		MaxDelay:     time.Hour,
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := retry.Do(ctx, cfg, func() error {
		calls++
		return errors.New("transient")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
