package jobs

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher is C5: it owns the type-to-handler registry, admits new jobs
// (dedup + initial status record + enqueue), and exposes cancellation for
// jobs that are queued or already processing.
type Dispatcher struct {
	store   StatusStore
	queue   *Queue
	dedup   *Deduplicator
	audit   *AuditLogger
	logger  *zap.Logger
	metrics *MetricsProvider

	mu       sync.RWMutex
	handlers map[string]Handler
	scopes   map[string]*CancellationScope
}

// NewDispatcher wires a Dispatcher over the given store, queue and dedup
// service. audit may be nil, in which case dispatch events are not recorded.
func NewDispatcher(store StatusStore, queue *Queue, dedup *Deduplicator, audit *AuditLogger, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		queue:    queue,
		dedup:    dedup,
		audit:    audit,
		logger:   logger,
		handlers: make(map[string]Handler),
		scopes:   make(map[string]*CancellationScope),
	}
}

// SetMetrics attaches the A8 metrics provider. Optional: a nil provider
// leaves dispatch/audit metric recording as a no-op.
func (d *Dispatcher) SetMetrics(metrics *MetricsProvider) { d.metrics = metrics }

// RegisterHandler binds a Handler to a job type. Registering the same type
// twice replaces the previous handler.
func (d *Dispatcher) RegisterHandler(jobType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[jobType] = h
}

// Resolve returns the handler registered for jobType.
func (d *Dispatcher) Resolve(jobType string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[jobType]
	return h, ok
}

// Dispatch admits job into the system: it rejects unknown job types,
// deduplicates against in-flight idempotency keys, writes the initial Queued
// status record, and enqueues the job for processing.
func (d *Dispatcher) Dispatch(ctx context.Context, job *Job) error {
	if _, ok := d.Resolve(job.Type); !ok {
		return ErrNoHandler
	}

	if !d.dedup.TryReserve(job.ID, job.IdempotencyKey) {
		inFlight, _ := d.dedup.InFlightJobID(job.IdempotencyKey)
		d.emitAuditDesc(ctx, EventJobStateTransition, job.ID, job.Type, "DuplicateJobSkipped",
			map[string]string{"idempotencyKey": job.IdempotencyKey, "inFlightJobId": inFlight})
		return ErrDuplicateInFlight
	}

	if err := d.store.Create(ctx, NewStatusRecord(job)); err != nil {
		d.dedup.Release(job.ID)
		return err
	}

	if err := d.queue.Enqueue(ctx, job); err != nil {
		d.dedup.Release(job.ID)
		d.store.Update(ctx, job.ID, func(r *StatusRecord) {
			r.Status = StatusFailed
			r.ErrorMessage = err.Error()
		})
		return err
	}

	d.emitAuditDesc(ctx, EventJobStateTransition, job.ID, job.Type, "Queued", map[string]string{"status": string(StatusQueued)})
	if d.metrics != nil {
		d.metrics.RecordEnqueued(ctx, job.Type)
	}
	return nil
}

// ReleaseDedup frees jobID's idempotency key reservation. The worker pool
// calls this once a job reaches a terminal status.
func (d *Dispatcher) ReleaseDedup(jobID string) {
	d.dedup.Release(jobID)
}

// Requeue re-enqueues a retry job built by Job.BuildRetry without going
// through dedup again (the original idempotency reservation is still held
// for the lifetime of the job, across retries).
func (d *Dispatcher) Requeue(ctx context.Context, job *Job) error {
	return d.queue.Enqueue(ctx, job)
}

// AuditLogger exposes the dispatcher's audit logger so other components (the
// worker pool, ingress adapter) can emit events through the same sink.
func (d *Dispatcher) AuditLogger() *AuditLogger { return d.audit }

// RegisterScope associates jobID with the cancellation scope a worker is
// executing it under, so Cancel can reach an in-flight job.
func (d *Dispatcher) RegisterScope(jobID string, scope *CancellationScope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scopes[jobID] = scope
}

// UnregisterScope removes jobID's scope once processing finishes.
func (d *Dispatcher) UnregisterScope(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.scopes, jobID)
}

// Cancel marks jobID Cancelled. If the job is currently being processed, its
// cancellation scope is fired so the handler observes ctx.Done(). Cancelling
// a job already in a terminal status is a no-op that returns nil.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	rec, err := d.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}

	d.mu.RLock()
	scope, processing := d.scopes[jobID]
	d.mu.RUnlock()
	if processing {
		scope.Cancel()
	}

	return d.store.Update(ctx, jobID, func(r *StatusRecord) {
		if r.Status.Terminal() {
			return
		}
		r.Status = StatusCancelled
		now := TimePtrNow()
		r.CompletedAt = now
	})
}

func (d *Dispatcher) emitAuditDesc(ctx context.Context, kind EventKind, jobID, jobType, description string, fields map[string]string) {
	if d.audit == nil {
		return
	}
	d.audit.Emit(ctx, Event{
		Kind:          kind,
		Description:   description,
		JobID:         jobID,
		JobType:       jobType,
		CorrelationID: CorrelationIDFromContext(ctx),
		Data:          fields,
	})
}
