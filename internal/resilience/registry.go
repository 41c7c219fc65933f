package resilience

import (
	"sync"

	"go.uber.org/zap"
)

// CircuitBreakerRegistry manages one CircuitBreaker per job type,
// created lazily the first time the worker pool dispatches that job type.
type CircuitBreakerRegistry struct {
	breakers map[string]*CircuitBreaker
	configs  map[string]*CircuitBreakerConfig
	logger   *zap.Logger
	mutex    sync.RWMutex
}

// NewCircuitBreakerRegistry creates a new registry
func NewCircuitBreakerRegistry(logger *zap.Logger) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		configs:  make(map[string]*CircuitBreakerConfig),
		logger:   logger,
	}
}

// RegisterConfig overrides the default circuit breaker configuration for a
// job type. Must be called before the worker pool's first dispatch of that
// job type, since Get creates and caches the breaker on first lookup.
func (r *CircuitBreakerRegistry) RegisterConfig(config *CircuitBreakerConfig) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.configs[config.JobType] = config
}

// Get returns the circuit breaker for a job type, creating one from the
// registered (or default) config if this is the first dispatch of it.
func (r *CircuitBreakerRegistry) Get(jobType string) *CircuitBreaker {
	r.mutex.RLock()
	if cb, ok := r.breakers[jobType]; ok {
		r.mutex.RUnlock()
		return cb
	}
	r.mutex.RUnlock()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check after acquiring write lock
	if cb, ok := r.breakers[jobType]; ok {
		return cb
	}

	config, ok := r.configs[jobType]
	if !ok {
		config = DefaultCircuitBreakerConfig(jobType)
	}

	cb := NewCircuitBreaker(config, r.logger)
	r.breakers[jobType] = cb

	r.logger.Info("created circuit breaker for job type", zap.String("job_type", jobType))
	return cb
}

// GetAll returns every job type's circuit breaker, keyed by job type.
func (r *CircuitBreakerRegistry) GetAll() map[string]*CircuitBreaker {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make(map[string]*CircuitBreaker)
	for k, v := range r.breakers {
		result[k] = v
	}
	return result
}

// GetMetrics returns metrics for every job type's circuit breaker.
func (r *CircuitBreakerRegistry) GetMetrics() map[string]CircuitBreakerMetrics {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make(map[string]CircuitBreakerMetrics)
	for jobType, cb := range r.breakers {
		result[jobType] = cb.Metrics()
	}
	return result
}

// Reset resets every job type's circuit breaker to closed state.
func (r *CircuitBreakerRegistry) Reset() {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
