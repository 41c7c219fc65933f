// Package jobs implements the background job orchestration core: a bounded
// priority queue, a worker pool, idempotency, retry/backoff, and lifecycle
// status tracking for asynchronously dispatched work.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by the core components.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrNoHandler      = errors.New("no handler registered for job type")
	ErrQueueClosed    = errors.New("queue is closed")
	ErrQueueFull      = errors.New("queue is at capacity")
	ErrDuplicateInFlight = errors.New("an in-flight job already holds this idempotency key")
)

// Status is the closed set of job lifecycle states.
//
//	Queued -> Processing -> Completed
//	                   |--> Cancelled
//	                   |--> Failed
//	                   |--> Retried -> Queued
//	                   |--> DeadLetter
type Status string

const (
	StatusQueued     Status = "Queued"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
	StatusFailed     Status = "Failed"
	StatusRetried    Status = "Retried"
	StatusDeadLetter Status = "DeadLetter"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusDeadLetter:
		return true
	default:
		return false
	}
}

// BackoffStrategy names a retry delay shape for RetryPolicyCalculator (C1).
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "Constant"
	BackoffLinear      BackoffStrategy = "Linear"
	BackoffExponential BackoffStrategy = "Exponential"
)

// RetryPolicy configures C1's delay and eligibility computation.
type RetryPolicy struct {
	Enabled         bool            `json:"enabled"`
	MaxRetries      int             `json:"maxRetries"`
	BackoffStrategy BackoffStrategy `json:"backoffStrategy"`
	BaseDelayMs     int64           `json:"baseDelayMs"`
	MaxDelayMs      int64           `json:"maxDelayMs"`
	MinJitterFactor float64         `json:"minJitterFactor"`
	MaxJitterFactor float64         `json:"maxJitterFactor"`
}

// DefaultRetryPolicy mirrors the §6 configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:         true,
		MaxRetries:      3,
		BackoffStrategy: BackoffExponential,
		BaseDelayMs:     5000,
		MaxDelayMs:      300000,
		MinJitterFactor: 0.0,
		MaxJitterFactor: 0.2,
	}
}

// Job is the unit of deferrable work handed to the queue. It is immutable
// except for RetryCount, which is bumped on a fresh Job value built by the
// processor when a retry is scheduled (see BuildRetry).
type Job struct {
	ID             string
	Type           string
	Payload        json.RawMessage
	Priority       int
	MaxRetries     int
	RetryCount     int
	IdempotencyKey string
	Metadata       map[string]string
	CreatedAt      time.Time
	EnqueuedAt     time.Time
	RetryPolicy    RetryPolicy

	Scope *CancellationScope
}

// Option mutates a Job at construction time.
type Option func(*Job)

// New builds a Job with sensible defaults applied before opts run.
func New(jobType string, payload any, opts ...Option) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	j := &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     data,
		Priority:    0,
		MaxRetries:  3,
		RetryCount:  0,
		Metadata:    map[string]string{},
		CreatedAt:   now,
		EnqueuedAt:  now,
		RetryPolicy: DefaultRetryPolicy(),
	}

	for _, opt := range opts {
		opt(j)
	}

	return j, nil
}

// WithPriority sets the job's priority (higher dequeues earlier).
func WithPriority(p int) Option {
	return func(j *Job) { j.Priority = p }
}

// WithMaxRetries caps the number of retries for this job.
func WithMaxRetries(n int) Option {
	return func(j *Job) { j.MaxRetries = n }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(j *Job) { j.RetryPolicy = p }
}

// WithIdempotencyKey opts the job into at-most-one-in-flight deduplication.
func WithIdempotencyKey(key string) Option {
	return func(j *Job) { j.IdempotencyKey = key }
}

// WithSource records the originating ingress/collaborator.
func WithSource(source string) Option {
	return func(j *Job) { j.Metadata["source"] = source }
}

// WithCorrelationID attaches a correlation id for audit trail stitching.
func WithCorrelationID(id string) Option {
	return func(j *Job) { j.Metadata["correlationId"] = id }
}

// WithParentJobID links a job to the one that spawned it.
func WithParentJobID(id string) Option {
	return func(j *Job) { j.Metadata["parentJobId"] = id }
}

// WithMetadata merges caller-defined tags into the job's metadata bag.
func WithMetadata(kv map[string]string) Option {
	return func(j *Job) {
		for k, v := range kv {
			j.Metadata[k] = v
		}
	}
}

// Source, CorrelationID and ParentJobID read the well-known metadata keys.
func (j *Job) Source() string        { return j.Metadata["source"] }
func (j *Job) CorrelationID() string  { return j.Metadata["correlationId"] }
func (j *Job) ParentJobID() string    { return j.Metadata["parentJobId"] }

// BuildRetry returns a fresh Job for a retry attempt: same id, type, payload
// and idempotency key, RetryCount+1, CreatedAt preserved, EnqueuedAt reset to
// now, and a fresh cancellation scope linked to parentCtx.
func (j *Job) BuildRetry(parentCtx context.Context) *Job {
	retry := *j
	retry.RetryCount = j.RetryCount + 1
	retry.EnqueuedAt = time.Now()
	retry.Scope = NewCancellationScope(parentCtx)
	return &retry
}

// CancellationScope is a per-job cancellation handle bound to a parent scope
// (the processor's shutdown scope, or a handler timeout's own timer scope).
type CancellationScope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCancellationScope derives a cancellable scope from parent.
func NewCancellationScope(parent context.Context) *CancellationScope {
	ctx, cancel := context.WithCancel(parent)
	return &CancellationScope{ctx: ctx, cancel: cancel}
}

// NewTimeoutScope derives a scope that cancels itself after d, unless d<=0
// (disabled).
func NewTimeoutScope(parent context.Context, d time.Duration) (*CancellationScope, context.CancelFunc) {
	if d <= 0 {
		s := NewCancellationScope(parent)
		return s, s.cancel
	}
	ctx, cancel := context.WithTimeout(parent, d)
	return &CancellationScope{ctx: ctx, cancel: cancel}, cancel
}

// Context returns the context a handler should observe for cancellation.
func (s *CancellationScope) Context() context.Context { return s.ctx }

// Cancel fires the scope.
func (s *CancellationScope) Cancel() { s.cancel() }

// Done reports whether the scope has been cancelled.
func (s *CancellationScope) Done() <-chan struct{} { return s.ctx.Done() }

// Cancelled reports whether the scope's context has been cancelled.
func (s *CancellationScope) Cancelled() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// Result is the sum type handlers return: either Success or Failure. The
// worker never lets a handler panic escape; recovered panics are converted
// to a retryable Failure.
type Result struct {
	succeeded bool
	data      any
	err       error
	retryable bool
	errorType string
}

// Succeeded reports whether the handler completed without error.
func (r Result) Succeeded() bool { return r.succeeded }

// Err returns the failure's underlying error, or nil on success.
func (r Result) Err() error { return r.err }

// Retryable reports whether a failure should be retried under policy.
func (r Result) Retryable() bool { return r.retryable }

// ErrorType exposes the taxonomy code (see pkg/errors) for a failure.
func (r Result) ErrorType() string { return r.errorType }

// Data returns the success payload, if any.
func (r Result) Data() any { return r.data }

// Success builds a successful Result carrying an optional result payload.
func Success(data any) Result {
	return Result{succeeded: true, data: data}
}

// Failure builds a failed Result. retryable controls whether C1/C6 schedule
// a retry; errorType should name one of the pkg/errors taxonomy codes.
func Failure(err error, retryable bool, errorType string) Result {
	return Result{succeeded: false, err: err, retryable: retryable, errorType: errorType}
}

// Handler is the single polymorphic contract every job type implements.
type Handler interface {
	Execute(ctx context.Context, job *Job) Result
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *Job) Result

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, job *Job) Result { return f(ctx, job) }

// Attempt records a single handler invocation (append-only on StatusRecord).
type Attempt struct {
	AttemptNumber        int             `json:"attemptNumber"`
	StartedAt            time.Time       `json:"startedAt"`
	CompletedAt          time.Time       `json:"completedAt"`
	Succeeded            bool            `json:"succeeded"`
	ErrorMessage         string          `json:"errorMessage,omitempty"`
	ExceptionType        string          `json:"exceptionType,omitempty"`
	DurationMs           int64           `json:"durationMs"`
	DelayBeforeAttemptMs int64           `json:"delayBeforeAttemptMs"`
	BackoffStrategy      BackoffStrategy `json:"backoffStrategy,omitempty"`
}

// StatusRecord is C4's owned, mutable-through-explicit-transitions record of
// a job's lifecycle. JSON field names match §6 exactly.
type StatusRecord struct {
	JobID                string            `json:"jobId"`
	JobType              string            `json:"jobType"`
	Status               Status            `json:"status"`
	CreatedAt            time.Time         `json:"createdAt"`
	StartedAt            *time.Time        `json:"startedAt,omitempty"`
	CompletedAt          *time.Time        `json:"completedAt,omitempty"`
	RetryCount           int               `json:"retryCount"`
	MaxRetries           int               `json:"maxRetries"`
	LastRetryAt          *time.Time        `json:"lastRetryAt,omitempty"`
	Source               string            `json:"source"`
	ParentJobID          string            `json:"parentJobId,omitempty"`
	CorrelationID        string            `json:"correlationId,omitempty"`
	ProcessingDurationMs *int64            `json:"processingDurationMs,omitempty"`
	QueueWaitTimeMs      *int64            `json:"queueWaitTimeMs,omitempty"`
	ErrorMessage         string            `json:"errorMessage,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	ResultData           json.RawMessage   `json:"resultData,omitempty"`
	IdempotencyKey       string            `json:"idempotencyKey,omitempty"`
	Attempts             []Attempt         `json:"attempts"`
}

// Clone returns a deep-enough copy safe to mutate without aliasing the
// original's slices/maps, matching the store's "readers see a consistent
// record" contract.
func (r *StatusRecord) Clone() *StatusRecord {
	clone := *r
	if r.Attempts != nil {
		clone.Attempts = make([]Attempt, len(r.Attempts))
		copy(clone.Attempts, r.Attempts)
	}
	if r.Metadata != nil {
		clone.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// NewStatusRecord builds the initial Queued record for a freshly dispatched job.
func NewStatusRecord(j *Job) *StatusRecord {
	return &StatusRecord{
		JobID:          j.ID,
		JobType:        j.Type,
		Status:         StatusQueued,
		CreatedAt:      j.CreatedAt,
		RetryCount:     j.RetryCount,
		MaxRetries:     j.MaxRetries,
		Source:         j.Source(),
		ParentJobID:    j.ParentJobID(),
		CorrelationID:  j.CorrelationID(),
		Metadata:       j.Metadata,
		IdempotencyKey: j.IdempotencyKey,
		Attempts:       []Attempt{},
	}
}
