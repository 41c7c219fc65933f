package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures exponential-backoff retry of a transient operation
// such as a status-store write, distinct from jobs.RetryPolicy which governs
// handler-level job retries after dispatch.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialInterval   time.Duration `mapstructure:"initial_interval"`
	MaxInterval       time.Duration `mapstructure:"max_interval"`
	Multiplier        float64       `mapstructure:"multiplier"`
	RandomizationFactor float64     `mapstructure:"randomization_factor"`
	RetryableErrors   []error       `mapstructure:"-"`
}

// DefaultRetryConfig returns a general-purpose backoff: 3 attempts, 100ms
// initial interval doubling up to 10s, ±50% jitter. The status store and
// audit sink do not use it; they retry with statusstore's writeRetryConfig.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialInterval:   100 * time.Millisecond,
		MaxInterval:       10 * time.Second,
		Multiplier:        2.0,
		RandomizationFactor: 0.5,
	}
}

// Retry runs fn, retrying with exponential backoff and jitter on failure,
// calling fn at most MaxAttempts times in total. Used by statusstore and the audit sink to ride out a
// transient database error rather than drop a job status update.
func Retry(ctx context.Context, config *RetryConfig, fn func(context.Context) error) error {
	var lastErr error
	interval := config.InitialInterval

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		// Check if error is retryable
		if len(config.RetryableErrors) > 0 {
			retryable := false
			for _, re := range config.RetryableErrors {
				if lastErr == re {
					retryable = true
					break
				}
			}
			if !retryable {
				return lastErr
			}
		}

		if attempt < config.MaxAttempts {
			// Calculate next interval with jitter
			nextInterval := calculateInterval(interval, config)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(nextInterval):
			}

			// Update interval for next iteration
			interval = time.Duration(float64(interval) * config.Multiplier)
			if interval > config.MaxInterval {
				interval = config.MaxInterval
			}
		}
	}

	return lastErr
}

// RetryWithResult is Retry for an operation that also returns a value, e.g.
// a status-store read that should survive a transient connection error.
func RetryWithResult[T any](ctx context.Context, config *RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var lastErr error
	var result T
	interval := config.InitialInterval

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		result, lastErr = fn(ctx)
		if lastErr == nil {
			return result, nil
		}

		if len(config.RetryableErrors) > 0 {
			retryable := false
			for _, re := range config.RetryableErrors {
				if lastErr == re {
					retryable = true
					break
				}
			}
			if !retryable {
				return result, lastErr
			}
		}

		if attempt < config.MaxAttempts {
			nextInterval := calculateInterval(interval, config)

			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(nextInterval):
			}

			interval = time.Duration(float64(interval) * config.Multiplier)
			if interval > config.MaxInterval {
				interval = config.MaxInterval
			}
		}
	}

	return result, lastErr
}

func calculateInterval(base time.Duration, config *RetryConfig) time.Duration {
	if config.RandomizationFactor == 0 {
		return base
	}

	delta := config.RandomizationFactor * float64(base)
	minInterval := float64(base) - delta
	maxInterval := float64(base) + delta

	// Random value between minInterval and maxInterval
	return time.Duration(minInterval + (rand.Float64() * (maxInterval - minInterval)))
}

// ExponentialBackoff computes the delay before the next retry attempt,
// capped at maxDelay and jittered to avoid synchronized retry storms across
// workers hitting the same failing dependency.
func ExponentialBackoff(attempt int, baseDelay time.Duration, maxDelay time.Duration) time.Duration {
	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > maxDelay {
		delay = maxDelay
	}

	// Add jitter (0-25% of delay)
	jitter := time.Duration(rand.Float64() * 0.25 * float64(delay))
	return delay + jitter
}
