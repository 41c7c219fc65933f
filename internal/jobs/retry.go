package jobs

import (
	"math"
	"math/rand"
)

// maxSafeRetryCount guards against overflow in the exponential term. Beyond
// this count the delay is clamped straight to MaxDelayMs without computing
// the power series.
const maxSafeRetryCount = 31

// ShouldRetry decides whether a failed attempt is eligible for another try.
// It combines the policy's own ceiling with the handler's retryable verdict:
// a handler that reports a permanent failure is never retried regardless of
// remaining budget.
func ShouldRetry(policy RetryPolicy, retryCount int, handlerRetryable bool) bool {
	if !policy.Enabled || !handlerRetryable {
		return false
	}
	return retryCount < policy.MaxRetries
}

// ComputeDelayMs returns the backoff delay, in milliseconds, before the
// attempt numbered retryCount+2 (i.e. retryCount is the number of retries
// already made, so retryCount 0 gives the delay before the first retry). The cap is applied before jitter, and jitter multiplies the
// capped delay by 1+U(MinJitterFactor, MaxJitterFactor).
func ComputeDelayMs(policy RetryPolicy, retryCount int) int64 {
	if retryCount >= maxSafeRetryCount {
		return applyJitter(policy, policy.MaxDelayMs)
	}

	var base float64
	switch policy.BackoffStrategy {
	case BackoffConstant:
		base = float64(policy.BaseDelayMs)
	case BackoffLinear:
		base = float64(policy.BaseDelayMs) * float64(retryCount+1)
	case BackoffExponential:
		base = float64(policy.BaseDelayMs) * math.Pow(2, float64(retryCount))
	default:
		base = float64(policy.BaseDelayMs)
	}

	capped := base
	if capped > float64(policy.MaxDelayMs) {
		capped = float64(policy.MaxDelayMs)
	}

	return applyJitter(policy, int64(capped))
}

// applyJitter scales a capped delay by 1+U(min,max) and rounds down.
func applyJitter(policy RetryPolicy, cappedMs int64) int64 {
	min, max := policy.MinJitterFactor, policy.MaxJitterFactor
	if min == 0 && max == 0 {
		return cappedMs
	}
	factor := 1 + min + rand.Float64()*(max-min)
	return int64(float64(cappedMs) * factor)
}
