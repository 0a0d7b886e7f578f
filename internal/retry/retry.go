package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	appErrors "github.com/relialab/docpipe/internal/errors"
)

// Config holds local (in-memory) retry configuration for consumers.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     10 * time.Second,
	}
}

// IsRetryable checks if an error is worth another local attempt.
// Business rejections and broken envelopes fail identically every time.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch appErrors.CodeOf(err) {
	case appErrors.ErrCodeBusinessRejection, appErrors.ErrCodeInvalidEnvelope:
		return false
	}
	return true
}

// CalculateDelay calculates the backoff before attempt n (0-based).
func CalculateDelay(attempt int, config *Config) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt)))
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}

// Do executes fn with local retry. The first attempt runs immediately;
// subsequent attempts wait for the backoff delay or context cancellation.
func Do(ctx context.Context, config *Config, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := CalculateDelay(attempt-1, config)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("max attempts exceeded: %w", lastErr)
}
