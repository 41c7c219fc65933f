package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// correlationIDKey is the context key used to propagate a correlation id
// across asynchronous boundaries. Go has no task-local storage, so the
// value travels as an explicit context.Context value rather than ambient
// thread-local state.
type correlationIDKey struct{}

// WithCorrelationID returns a context carrying id, readable downstream via
// CorrelationIDFromContext.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext reads the correlation id attached by
// WithCorrelationID, or "" if none was attached.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// EventKind is the closed set of audit event categories.
type EventKind string

const (
	EventWebhookReceived    EventKind = "WebhookReceived"
	EventWebhookValidation  EventKind = "WebhookValidation"
	EventTaskStateTransition EventKind = "TaskStateTransition"
	EventJobStateTransition EventKind = "JobStateTransition"
	EventContainerOperation EventKind = "ContainerOperation"
	EventFileOperation      EventKind = "FileOperation"
	EventPlanGeneration     EventKind = "PlanGeneration"
	EventPlanExecution      EventKind = "PlanExecution"
	EventGitHubAPICall      EventKind = "GitHubApiCall"
)

// Event is one structured audit record.
type Event struct {
	Kind          EventKind         `json:"eventType"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Description   string            `json:"description"`
	Initiator     string            `json:"initiator,omitempty"`
	Target        string            `json:"target,omitempty"`
	Result        string            `json:"result,omitempty"`
	DurationMs    int64             `json:"durationMs,omitempty"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	Data          map[string]string `json:"data,omitempty"`

	// JobID/JobType are convenience fields folded into Data by the audit
	// sink; they are not part of the wire schema in §6 but make the
	// in-memory ring buffer queryable by job.
	JobID   string `json:"-"`
	JobType string `json:"-"`
}

// auditChannelCapacity bounds the non-blocking emission buffer. Past
// capacity Emit blocks until the drain goroutine makes room or the caller's
// ctx is done; in the latter case the event is dropped with a warning.
const auditChannelCapacity = 1024

// ringBufferSize caps the in-memory sink retained for HTTP debugging.
const ringBufferSize = 2000

// AuditSink persists or exposes audit events past the in-memory ring buffer.
// A nil sink means the in-memory ring buffer is the only destination.
type AuditSink interface {
	Persist(ctx context.Context, e Event) error
}

// AuditLogger is C7: buffered, non-blocking audit emission with an optional
// durable sink and an always-on in-memory ring buffer for local debugging.
type AuditLogger struct {
	logger  *zap.Logger
	sink    AuditSink
	events  chan Event
	metrics *MetricsProvider

	mu     sync.RWMutex
	ring   []Event
	cursor int

	stop chan struct{}
	done chan struct{}
}

// SetMetrics attaches the A8 metrics provider so every drained event is
// counted. Optional: a nil provider leaves metric recording a no-op.
func (a *AuditLogger) SetMetrics(metrics *MetricsProvider) { a.metrics = metrics }

// NewAuditLogger starts the background drain goroutine. sink may be nil.
func NewAuditLogger(logger *zap.Logger, sink AuditSink) *AuditLogger {
	a := &AuditLogger{
		logger: logger,
		sink:   sink,
		events: make(chan Event, auditChannelCapacity),
		ring:   make([]Event, 0, ringBufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go a.drain()
	return a
}

// Emit enqueues e for asynchronous processing. It never blocks the caller
// under normal load; if the buffer is saturated it blocks briefly rather
// than silently dropping the event, since the audit trail is the compliance
// artefact of record.
func (a *AuditLogger) Emit(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = CorrelationIDFromContext(ctx)
	}
	select {
	case a.events <- e:
		return
	default:
	}
	select {
	case a.events <- e:
	case <-ctx.Done():
		a.logger.Warn("audit event dropped: context cancelled before buffering",
			zap.String("eventType", string(e.Kind)), zap.String("correlationId", e.CorrelationID))
	}
}

func (a *AuditLogger) drain() {
	defer close(a.done)
	for {
		select {
		case e := <-a.events:
			a.handle(e)
		case <-a.stop:
			// Drain whatever remains before exiting.
			for {
				select {
				case e := <-a.events:
					a.handle(e)
				default:
					return
				}
			}
		}
	}
}

func (a *AuditLogger) handle(e Event) {
	a.appendRing(e)
	if a.metrics != nil {
		a.metrics.RecordAuditEvent(context.Background(), string(e.Kind))
	}

	fields := []zap.Field{
		zap.String("eventType", string(e.Kind)),
		zap.String("description", e.Description),
		zap.String("correlationId", e.CorrelationID),
	}
	if e.JobID != "" {
		fields = append(fields, zap.String("jobId", e.JobID))
	}
	if e.ErrorMessage != "" {
		fields = append(fields, zap.String("errorMessage", e.ErrorMessage))
		a.logger.Warn("audit event", fields...)
	} else {
		a.logger.Info("audit event", fields...)
	}

	if a.sink == nil {
		return
	}
	if err := a.sink.Persist(context.Background(), e); err != nil {
		a.logger.Error("audit event persistence failed",
			zap.String("eventType", string(e.Kind)), zap.Error(err))
	}
}

func (a *AuditLogger) appendRing(e Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.ring) < ringBufferSize {
		a.ring = append(a.ring, e)
		return
	}
	a.ring[a.cursor] = e
	a.cursor = (a.cursor + 1) % ringBufferSize
}

// Recent returns up to limit most-recently-emitted events, newest first.
func (a *AuditLogger) Recent(limit int) []Event {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.ring)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, limit)
	newest := a.cursor - 1
	if n < ringBufferSize {
		newest = n - 1
	}
	for i := 0; i < limit; i++ {
		idx := (newest - i + 2*n) % n
		out[i] = a.ring[idx]
	}
	return out
}

// Close stops the drain goroutine after flushing any buffered events.
func (a *AuditLogger) Close() {
	close(a.stop)
	<-a.done
}

// MarshalData renders Data as a compact JSON object, used by durable sinks
// that store the event's open key/value bag as a single JSON column.
func (e Event) MarshalData() ([]byte, error) {
	if e.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Data)
}
