// Package resilience provides retry, circuit-breaker, timeout, and fallback
// primitives shared by the scraping core and enrichment callers.
package resilience

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryConfig parameterizes Retry. The zero value is not usable; start from
// DefaultRetryConfig.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64

	// RetryCondition decides whether an error warrants another attempt.
	// A nil condition retries every error.
	RetryCondition func(error) bool

	// OnRetry is invoked before each backoff sleep with the upcoming
	// attempt number (2-based) and the error that caused the retry.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig matches the manager's retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    10 * time.Second,
		Factor:      2,
	}
}

// Backoff returns the delay before the given attempt's retry:
// min(maxDelay, baseDelay * factor^(attempt-1)).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.BaseDelay) * math.Pow(c.Factor, float64(attempt-1))
	if max := float64(c.MaxDelay); c.MaxDelay > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// Retry executes fn up to cfg.MaxAttempts times with exponential backoff.
// Backoff sleeps respect context cancellation.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		return zero, fmt.Errorf("retry: max attempts must be >= 1, got %d", cfg.MaxAttempts)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.RetryCondition != nil && !cfg.RetryCondition(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.Backoff(attempt)):
		}
	}

	return zero, fmt.Errorf("retry: exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
}
