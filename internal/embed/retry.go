package embed

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryConfig configures retry behavior for provider requests.
type RetryConfig struct {
	MaxRetries   int           // retry attempts, not counting the initial try
	InitialDelay time.Duration // delay before first retry
	MaxDelay     time.Duration // cap on the backoff delay
	Multiplier   float64       // exponential backoff multiplier
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// WithRetry executes fn with exponential backoff. Non-retryable errors stop
// immediately; context cancellation returns the context error.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err != nil {
			lastErr = err

			if !isTransient(err) || attempt >= cfg.MaxRetries {
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}

		return nil
	}

	return fmt.Errorf("embedding request failed after retries: %w", lastErr)
}

// isTransient classifies provider errors worth retrying by message shape,
// matching the status codes providers surface in error text.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"status 429",
		"status 500",
		"status 502",
		"status 503",
		"status 504",
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
