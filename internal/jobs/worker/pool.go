// Package worker implements C6, the bounded worker pool that drains the
// job queue and drives each job through execution, retry, or dead-lettering.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arcana-labs/jobcore/internal/jobs"
	"github.com/arcana-labs/jobcore/internal/resilience"
)

// Pool is C6's bounded background job processor: Concurrency workers pull
// from the queue, each one executing at most one job at a time under a
// per-job cancellation scope and a per-handler-type timeout.
type Pool struct {
	queue      *jobs.Queue
	dispatcher *jobs.Dispatcher
	store      jobs.StatusStore
	audit      *jobs.AuditLogger
	logger     *zap.Logger
	metrics    *jobs.MetricsProvider
	breakers   *resilience.CircuitBreakerRegistry

	concurrency     int
	shutdownTimeout time.Duration
	defaultTimeout  time.Duration

	timeoutsMu sync.RWMutex
	timeouts   map[string]time.Duration

	running    atomic.Bool
	wg         sync.WaitGroup
	rootCtx    context.Context
	rootCancel context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	deadLettered atomic.Int64
	cancelled atomic.Int64
}

// NewPool wires a Pool over its collaborators. defaultTimeout of 0 means no
// per-job deadline unless overridden via SetHandlerTimeout.
func NewPool(queue *jobs.Queue, dispatcher *jobs.Dispatcher, store jobs.StatusStore, audit *jobs.AuditLogger, logger *zap.Logger, concurrency int, shutdownTimeout, defaultTimeout time.Duration) *Pool {
	return &Pool{
		queue:           queue,
		dispatcher:      dispatcher,
		store:           store,
		audit:           audit,
		logger:          logger,
		concurrency:     concurrency,
		shutdownTimeout: shutdownTimeout,
		defaultTimeout:  defaultTimeout,
		timeouts:        make(map[string]time.Duration),
	}
}

// SetMetrics attaches the A8 metrics provider. Optional: a nil provider
// leaves pool-level metric recording a no-op.
func (p *Pool) SetMetrics(metrics *jobs.MetricsProvider) { p.metrics = metrics }

// SetCircuitBreakers attaches a per-job-type circuit breaker registry.
// Optional: a nil registry leaves handler invocation unguarded. A tripped
// breaker short-circuits invoke with a retryable CircuitOpen failure instead
// of calling the handler, giving a failing downstream dependency time to
// recover without every worker piling into it.
func (p *Pool) SetCircuitBreakers(breakers *resilience.CircuitBreakerRegistry) {
	p.breakers = breakers
}

// SetHandlerTimeout overrides the execution timeout for a specific job type.
func (p *Pool) SetHandlerTimeout(jobType string, d time.Duration) {
	p.timeoutsMu.Lock()
	defer p.timeoutsMu.Unlock()
	p.timeouts[jobType] = d
}

func (p *Pool) timeoutFor(jobType string) time.Duration {
	p.timeoutsMu.RLock()
	defer p.timeoutsMu.RUnlock()
	if d, ok := p.timeouts[jobType]; ok {
		return d
	}
	return p.defaultTimeout
}

// Start launches Concurrency worker goroutines bound to ctx's lifetime.
func (p *Pool) Start(ctx context.Context) error {
	if p.running.Load() {
		return fmt.Errorf("worker pool already running")
	}
	p.rootCtx, p.rootCancel = context.WithCancel(ctx)
	p.running.Store(true)

	p.logger.Info("starting worker pool", zap.Int("concurrency", p.concurrency))
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Stop cancels the root scope (aborting any in-flight handler that honors
// ctx) and waits up to shutdownTimeout for workers to drain.
func (p *Pool) Stop() error {
	if !p.running.Load() {
		return nil
	}
	p.logger.Info("stopping worker pool")
	p.running.Store(false)
	p.rootCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(p.shutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out", zap.Duration("timeout", p.shutdownTimeout))
	}
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("workerId", id))

	for {
		job, err := p.queue.Dequeue(p.rootCtx)
		if err != nil {
			if p.running.Load() {
				logger.Debug("worker stopping", zap.Error(err))
			}
			return
		}
		p.processOne(logger, job)
	}
}

func (p *Pool) processOne(logger *zap.Logger, job *jobs.Job) {
	logger = logger.With(zap.String("jobId", job.ID), zap.String("jobType", job.Type), zap.Int("retryCount", job.RetryCount))

	now := time.Now()
	waitMs := now.Sub(job.EnqueuedAt).Milliseconds()
	p.store.Update(p.rootCtx, job.ID, func(r *jobs.StatusRecord) {
		r.Status = jobs.StatusProcessing
		r.StartedAt = jobs.TimePtrNow()
		r.QueueWaitTimeMs = jobs.Int64Ptr(waitMs)
	})

	handler, ok := p.dispatcher.Resolve(job.Type)
	if !ok {
		p.finishNoHandler(logger, job, "no handler registered for job type", "NoHandler")
		return
	}

	scope, cancel := jobs.NewTimeoutScope(p.rootCtx, p.timeoutFor(job.Type))
	defer cancel()
	p.dispatcher.RegisterScope(job.ID, scope)
	defer p.dispatcher.UnregisterScope(job.ID)

	if p.metrics != nil {
		p.metrics.IncrementActiveWorkers(p.rootCtx)
		defer p.metrics.DecrementActiveWorkers(p.rootCtx)
	}

	start := time.Now()
	result := p.invoke(handler, scope, job)
	duration := time.Since(start)

	if result.Succeeded() {
		attempt := jobs.Attempt{
			AttemptNumber: job.RetryCount + 1,
			StartedAt:     start,
			CompletedAt:   time.Now(),
			Succeeded:     true,
			DurationMs:    duration.Milliseconds(),
		}
		p.finishSuccess(logger, job, duration, attempt)
		return
	}

	scopeErr := scope.Context().Err()

	if p.rootCtx.Err() != nil && scope.Cancelled() {
		// Shutdown in progress: leave the job Processing so a future
		// process restart (durable store) or operator retry can pick it
		// back up rather than misreporting it Failed or Cancelled.
		logger.Warn("job aborted by shutdown", zap.Error(result.Err()))
		return
	}

	if errors.Is(scopeErr, context.Canceled) {
		// Explicit external cancellation via the dispatcher: per the
		// processor contract this skips attempt bookkeeping entirely.
		p.finishCancelled(logger, job)
		return
	}

	if errors.Is(scopeErr, context.DeadlineExceeded) {
		result = jobs.Failure(fmt.Errorf("handler execution timed out"), false, "Timeout")
	}

	attempt := jobs.Attempt{
		AttemptNumber: job.RetryCount + 1,
		StartedAt:     start,
		CompletedAt:   time.Now(),
		Succeeded:     false,
		DurationMs:    duration.Milliseconds(),
		ErrorMessage:  result.Err().Error(),
		ExceptionType: result.ErrorType(),
	}
	p.finishFailure(logger, job, duration, attempt, result)
}

// invoke calls the handler, converting a panic into a retryable Failure so a
// misbehaving handler never takes down a worker goroutine.
func (p *Pool) invoke(handler jobs.Handler, scope *jobs.CancellationScope, job *jobs.Job) (result jobs.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = jobs.Failure(fmt.Errorf("handler panic: %v", r), true, "TransientHandlerFailure")
		}
	}()

	if p.breakers == nil {
		return handler.Execute(scope.Context(), job)
	}

	cb := p.breakers.Get(job.Type)
	err := cb.Execute(scope.Context(), func(ctx context.Context) error {
		result = handler.Execute(ctx, job)
		if !result.Succeeded() {
			return result.Err()
		}
		return nil
	})
	if err != nil && (err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests) {
		return jobs.Failure(err, true, "CircuitOpen")
	}
	return result
}

func (p *Pool) finishSuccess(logger *zap.Logger, job *jobs.Job, duration time.Duration, attempt jobs.Attempt) {
	logger.Info("job completed", zap.Duration("duration", duration))
	p.store.Update(p.rootCtx, job.ID, func(r *jobs.StatusRecord) {
		r.Status = jobs.StatusCompleted
		r.CompletedAt = jobs.TimePtrNow()
		r.ProcessingDurationMs = jobs.Int64Ptr(duration.Milliseconds())
		r.Attempts = append(r.Attempts, attempt)
	})
	p.dispatcher.ReleaseDedup(job.ID)
	p.processed.Add(1)
	if p.metrics != nil {
		p.metrics.RecordCompleted(p.rootCtx, job.Type)
	}
	p.emitTransition(job, "Completed")
}

// finishNoHandler handles a resolved-handler miss: the processor contract
// records this as a Failed status without ever invoking or attempting the job.
func (p *Pool) finishNoHandler(logger *zap.Logger, job *jobs.Job, message, errorType string) {
	logger.Error("job failed: no handler registered", zap.String("reason", message))
	p.store.Update(p.rootCtx, job.ID, func(r *jobs.StatusRecord) {
		r.Status = jobs.StatusFailed
		r.CompletedAt = jobs.TimePtrNow()
		r.ErrorMessage = message
	})
	p.dispatcher.ReleaseDedup(job.ID)
	p.failed.Add(1)
	if p.metrics != nil {
		p.metrics.RecordFailed(p.rootCtx, job.Type)
	}
	p.emitTransition(job, "Failed")
}

// finishCancelled handles the per-job-execution contract's Cancellation
// branch: no attempt is recorded, the job moves straight to Cancelled.
func (p *Pool) finishCancelled(logger *zap.Logger, job *jobs.Job) {
	logger.Warn("job cancelled")
	p.store.Update(p.rootCtx, job.ID, func(r *jobs.StatusRecord) {
		r.Status = jobs.StatusCancelled
		r.CompletedAt = jobs.TimePtrNow()
	})
	p.dispatcher.ReleaseDedup(job.ID)
	p.cancelled.Add(1)
	p.emitTransition(job, "Cancelled")
}

func (p *Pool) finishFailure(logger *zap.Logger, job *jobs.Job, duration time.Duration, attempt jobs.Attempt, result jobs.Result) {
	retry := jobs.ShouldRetry(job.RetryPolicy, job.RetryCount, result.Retryable())

	if !retry {
		// Two distinct permanent outcomes share the "don't retry" branch:
		// a handler that judged its own failure non-retryable ends in
		// Failed, while a retryable failure that exhausted its retry
		// budget ends in DeadLetter.
		if !result.Retryable() {
			logger.Error("job failed permanently", zap.Error(result.Err()), zap.Duration("duration", duration))
			p.store.Update(p.rootCtx, job.ID, func(r *jobs.StatusRecord) {
				r.Status = jobs.StatusFailed
				r.CompletedAt = jobs.TimePtrNow()
				r.ProcessingDurationMs = jobs.Int64Ptr(duration.Milliseconds())
				r.ErrorMessage = result.Err().Error()
				r.Attempts = append(r.Attempts, attempt)
			})
			p.dispatcher.ReleaseDedup(job.ID)
			p.failed.Add(1)
			if p.metrics != nil {
				p.metrics.RecordFailed(p.rootCtx, job.Type)
			}
			p.emitTransition(job, "Failed")
			return
		}

		logger.Error("job retries exhausted, dead-lettering", zap.Error(result.Err()), zap.Duration("duration", duration))
		p.store.Update(p.rootCtx, job.ID, func(r *jobs.StatusRecord) {
			r.Status = jobs.StatusDeadLetter
			r.CompletedAt = jobs.TimePtrNow()
			r.ProcessingDurationMs = jobs.Int64Ptr(duration.Milliseconds())
			r.ErrorMessage = result.Err().Error()
			r.Attempts = append(r.Attempts, attempt)
		})
		p.dispatcher.ReleaseDedup(job.ID)
		p.deadLettered.Add(1)
		p.failed.Add(1)
		if p.metrics != nil {
			p.metrics.RecordFailed(p.rootCtx, job.Type)
			p.metrics.RecordDeadLettered(p.rootCtx, job.Type)
		}
		p.emitTransition(job, "DeadLetter")
		return
	}

	delayMs := jobs.ComputeDelayMs(job.RetryPolicy, job.RetryCount)
	attempt.DelayBeforeAttemptMs = delayMs
	attempt.BackoffStrategy = job.RetryPolicy.BackoffStrategy

	logger.Warn("job failed, scheduling retry", zap.Error(result.Err()), zap.Int64("delayMs", delayMs))
	p.store.Update(p.rootCtx, job.ID, func(r *jobs.StatusRecord) {
		r.Status = jobs.StatusRetried
		r.RetryCount = job.RetryCount + 1
		r.LastRetryAt = jobs.TimePtrNow()
		r.ErrorMessage = result.Err().Error()
		r.Attempts = append(r.Attempts, attempt)
	})
	p.retried.Add(1)
	if p.metrics != nil {
		p.metrics.RecordFailed(p.rootCtx, job.Type)
		p.metrics.RecordRetried(p.rootCtx, job.Type)
	}
	p.emitTransition(job, "Retried")

	retryJob := job.BuildRetry(p.rootCtx)
	p.wg.Add(1)
	go p.scheduleRetry(retryJob, time.Duration(delayMs)*time.Millisecond)
}

func (p *Pool) scheduleRetry(job *jobs.Job, delay time.Duration) {
	defer p.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-p.rootCtx.Done():
		return
	case <-timer.C:
	}

	job.EnqueuedAt = time.Now()
	if err := p.dispatcher.Requeue(p.rootCtx, job); err != nil {
		p.logger.Error("failed to requeue retry", zap.String("jobId", job.ID), zap.Error(err))
		return
	}
	p.store.Update(p.rootCtx, job.ID, func(r *jobs.StatusRecord) {
		if r.Status == jobs.StatusRetried {
			r.Status = jobs.StatusQueued
		}
	})
}

func (p *Pool) emitTransition(job *jobs.Job, status string) {
	if p.audit == nil {
		return
	}
	p.audit.Emit(p.rootCtx, jobs.Event{
		Kind:          jobs.EventJobStateTransition,
		Description:   status,
		JobID:         job.ID,
		JobType:       job.Type,
		CorrelationID: job.CorrelationID(),
		Data:          map[string]string{"status": status},
	})
}

// Stats summarizes pool-level counters for the HTTP metrics surface.
type Stats struct {
	Running      bool
	Concurrency  int
	Processed    int64
	Failed       int64
	Retried      int64
	DeadLettered int64
	Cancelled    int64
}

// Stats returns the pool's current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Running:      p.running.Load(),
		Concurrency:  p.concurrency,
		Processed:    p.processed.Load(),
		Failed:       p.failed.Load(),
		Retried:      p.retried.Load(),
		DeadLettered: p.deadLettered.Load(),
		Cancelled:    p.cancelled.Load(),
	}
}
