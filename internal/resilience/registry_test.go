package resilience

import (
	"context"
	"testing"
	"time"
)

func TestCircuitBreakerRegistry_GetCreatesOnFirstDispatch(t *testing.T) {
	registry := NewCircuitBreakerRegistry(newTestLogger())

	cb := registry.Get("SendEmail")
	if cb == nil {
		t.Fatal("Get() returned nil")
	}
	if cb.config.JobType != "SendEmail" {
		t.Errorf("JobType = %v, want SendEmail", cb.config.JobType)
	}
}

func TestCircuitBreakerRegistry_GetReturnsSameInstance(t *testing.T) {
	registry := NewCircuitBreakerRegistry(newTestLogger())

	cb1 := registry.Get("SendEmail")
	cb2 := registry.Get("SendEmail")

	if cb1 != cb2 {
		t.Error("Get() should return the same breaker instance for the same job type")
	}
}

func TestCircuitBreakerRegistry_DistinctJobTypesGetDistinctBreakers(t *testing.T) {
	registry := NewCircuitBreakerRegistry(newTestLogger())

	emailBreaker := registry.Get("SendEmail")
	planBreaker := registry.Get("GeneratePlan")

	if emailBreaker == planBreaker {
		t.Error("distinct job types should get distinct circuit breakers")
	}
}

func TestCircuitBreakerRegistry_RegisterConfigOverridesDefault(t *testing.T) {
	registry := NewCircuitBreakerRegistry(newTestLogger())

	registry.RegisterConfig(&CircuitBreakerConfig{
		JobType:                   "GeneratePlan",
		FailureThreshold:          1,
		SuccessThreshold:          1,
		Timeout:                   time.Second,
		MaxHalfOpenRequests:       1,
		SlidingWindowSize:         5,
		SlidingWindowType:         "count",
		SlowCallDurationThreshold: time.Second,
		SlowCallRateThreshold:     0.5,
	})

	cb := registry.Get("GeneratePlan")
	if cb.config.FailureThreshold != 1 {
		t.Errorf("FailureThreshold = %v, want 1 (registered override)", cb.config.FailureThreshold)
	}
}

func TestCircuitBreakerRegistry_GetAll(t *testing.T) {
	registry := NewCircuitBreakerRegistry(newTestLogger())

	registry.Get("SendEmail")
	registry.Get("GeneratePlan")

	all := registry.GetAll()
	if len(all) != 2 {
		t.Errorf("GetAll() returned %d breakers, want 2", len(all))
	}
	if _, ok := all["SendEmail"]; !ok {
		t.Error("GetAll() missing SendEmail")
	}
	if _, ok := all["GeneratePlan"]; !ok {
		t.Error("GetAll() missing GeneratePlan")
	}
}

func TestCircuitBreakerRegistry_GetMetrics(t *testing.T) {
	registry := NewCircuitBreakerRegistry(newTestLogger())

	cb := registry.Get("SendEmail")
	cb.Execute(context.Background(), func(ctx context.Context) error { return nil })

	metrics := registry.GetMetrics()
	if metrics["SendEmail"].TotalCalls != 1 {
		t.Errorf("TotalCalls = %v, want 1", metrics["SendEmail"].TotalCalls)
	}
}

func TestCircuitBreakerRegistry_ResetResetsAllBreakers(t *testing.T) {
	registry := NewCircuitBreakerRegistry(newTestLogger())

	cb := registry.Get("SendEmail")
	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), func(ctx context.Context) error { return errHandlerFailed })
	}
	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want OPEN before Reset", cb.State())
	}

	registry.Reset()

	if cb.State() != StateClosed {
		t.Errorf("State after registry Reset() = %v, want CLOSED", cb.State())
	}
}
