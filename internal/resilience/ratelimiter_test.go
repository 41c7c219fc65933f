package resilience

import (
	"context"
	"testing"
	"time"
)

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig("ingress")
	if cfg.Route != "ingress" {
		t.Errorf("Route = %v, want ingress", cfg.Route)
	}
	if cfg.Rate != 100 {
		t.Errorf("Rate = %v, want 100", cfg.Rate)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("BurstSize = %v, want 10", cfg.BurstSize)
	}
}

func TestTokenBucketLimiter_AllowWithinBurst(t *testing.T) {
	cfg := &RateLimiterConfig{
		Route:       "ingress",
		Rate:        10,
		Period:      time.Second,
		BurstSize:   5,
		WaitTimeout: time.Second,
	}
	limiter := NewTokenBucketLimiter(cfg)

	for i := 0; i < 5; i++ {
		if !limiter.Allow() {
			t.Errorf("submission %d should be admitted within burst", i)
		}
	}

	if limiter.Allow() {
		t.Error("submission exceeding burst should be rejected")
	}

	metrics := limiter.Metrics()
	if metrics.AllowedRequests != 5 {
		t.Errorf("AllowedRequests = %v, want 5", metrics.AllowedRequests)
	}
	if metrics.RejectedRequests != 1 {
		t.Errorf("RejectedRequests = %v, want 1", metrics.RejectedRequests)
	}
}

func TestTokenBucketLimiter_Refill(t *testing.T) {
	cfg := &RateLimiterConfig{
		Route:       "ingress",
		Rate:        100,
		Period:      100 * time.Millisecond,
		BurstSize:   2,
		WaitTimeout: time.Second,
	}
	limiter := NewTokenBucketLimiter(cfg)

	limiter.Allow()
	limiter.Allow()
	if limiter.Allow() {
		t.Error("bucket should be empty after burst is exhausted")
	}

	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow() {
		t.Error("bucket should have refilled after waiting a full period")
	}
}

func TestTokenBucketLimiter_AllowN(t *testing.T) {
	cfg := &RateLimiterConfig{
		Route:       "ingress",
		Rate:        10,
		Period:      time.Second,
		BurstSize:   10,
		WaitTimeout: time.Second,
	}
	limiter := NewTokenBucketLimiter(cfg)

	if !limiter.AllowN(7) {
		t.Error("batch of 7 should be admitted within burst of 10")
	}
	if limiter.AllowN(5) {
		t.Error("batch of 5 should be rejected, only 3 tokens remain")
	}
}

func TestTokenBucketLimiter_Wait(t *testing.T) {
	cfg := &RateLimiterConfig{
		Route:       "ingress",
		Rate:        100,
		Period:      100 * time.Millisecond,
		BurstSize:   1,
		WaitTimeout: time.Second,
	}
	limiter := NewTokenBucketLimiter(cfg)

	ctx := context.Background()
	if err := limiter.Wait(ctx); err != nil {
		t.Errorf("Wait() first call error = %v", err)
	}

	if err := limiter.Wait(ctx); err != nil {
		t.Errorf("Wait() should block for refill then succeed, error = %v", err)
	}
}

func TestTokenBucketLimiter_WaitExceedsTimeout(t *testing.T) {
	cfg := &RateLimiterConfig{
		Route:       "ingress",
		Rate:        1,
		Period:      time.Hour,
		BurstSize:   1,
		WaitTimeout: 10 * time.Millisecond,
	}
	limiter := NewTokenBucketLimiter(cfg)

	ctx := context.Background()
	limiter.Allow()

	err := limiter.Wait(ctx)
	if err != ErrRateLimitExceeded {
		t.Errorf("Wait() error = %v, want ErrRateLimitExceeded", err)
	}
}

func TestTokenBucketLimiter_WaitContextCancelled(t *testing.T) {
	cfg := &RateLimiterConfig{
		Route:       "ingress",
		Rate:        1,
		Period:      time.Second,
		BurstSize:   1,
		WaitTimeout: time.Minute,
	}
	limiter := NewTokenBucketLimiter(cfg)
	limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestSlidingWindowLimiter_AllowWithinRate(t *testing.T) {
	cfg := &RateLimiterConfig{
		Route:  "ingress",
		Rate:   3,
		Period: time.Minute,
	}
	limiter := NewSlidingWindowLimiter(cfg)

	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Errorf("submission %d should be admitted within window rate", i)
		}
	}

	if limiter.Allow() {
		t.Error("submission exceeding window rate should be rejected")
	}

	metrics := limiter.Metrics()
	if metrics.AllowedRequests != 3 {
		t.Errorf("AllowedRequests = %v, want 3", metrics.AllowedRequests)
	}
	if metrics.RejectedRequests != 1 {
		t.Errorf("RejectedRequests = %v, want 1", metrics.RejectedRequests)
	}
}

func TestSlidingWindowLimiter_WindowExpires(t *testing.T) {
	cfg := &RateLimiterConfig{
		Route:  "ingress",
		Rate:   1,
		Period: 50 * time.Millisecond,
	}
	limiter := NewSlidingWindowLimiter(cfg)

	if !limiter.Allow() {
		t.Fatal("first submission should be admitted")
	}
	if limiter.Allow() {
		t.Error("second submission within window should be rejected")
	}

	time.Sleep(80 * time.Millisecond)

	if !limiter.Allow() {
		t.Error("submission after window expiry should be admitted")
	}
}
