package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcana-labs/jobcore/internal/resilience"
)

// ErrIngressRateLimited is returned by Ingest when the C9 burst limiter,
// shared by all event sources, has no tokens left.
var ErrIngressRateLimited = errors.New("ingress rate limit exceeded")

// TaskStatus mirrors the upstream agent_tasks.status enum.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task is the minimal agent_tasks-shaped record the ingress adapter upserts
// before dispatching work. The full upstream task store is out of scope;
// this in-memory table exists only so the adapter has something to call.
type Task struct {
	ID               string
	InstallationID   string
	RepositoryOwner  string
	RepositoryName   string
	IssueNumber      int
	Status           TaskStatus
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// Identity returns the {owner}/{repo}/issues/{number} task identity used to
// derive idempotency keys.
func (t *Task) Identity() string {
	return fmt.Sprintf("%s/%s/issues/%d", t.RepositoryOwner, t.RepositoryName, t.IssueNumber)
}

// TaskStore is the minimal in-memory agent_tasks table the ingress adapter upserts.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewTaskStore returns an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*Task)}
}

// Upsert stores or updates a task keyed by owner/repo/issue, returning the
// resident record (existing or newly created).
func (s *TaskStore) Upsert(owner, repo string, issueNumber int, installationID string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s/%s/issues/%d", owner, repo, issueNumber)
	if t, ok := s.tasks[key]; ok {
		return t
	}
	t := &Task{
		ID:              uuid.New().String(),
		InstallationID:  installationID,
		RepositoryOwner: owner,
		RepositoryName:  repo,
		IssueNumber:     issueNumber,
		Status:          TaskStatusPending,
		CreatedAt:       time.Now(),
	}
	s.tasks[key] = t
	return t
}

// WebhookEvent is the inbound payload shape the ingress adapter accepts. The
// signature check that produces a validated event happens upstream, in the
// HTTP layer; by the time Ingest sees it the event is trusted.
type WebhookEvent struct {
	InstallationID  string
	RepositoryOwner string
	RepositoryName  string
	IssueNumber     int
	JobType         string
	Payload         any
	Priority        int
	MaxRetries      int
	// IdempotencyKey and Source override the webhook-derived defaults when
	// the caller (e.g. the generic POST /jobs binding) supplies its own.
	IdempotencyKey string
	Source         string
}

// IngressAdapter is C9: it turns a validated external event into a Job and
// hands it to the dispatcher, generating a fresh correlation id per event.
type IngressAdapter struct {
	dispatcher *Dispatcher
	tasks      *TaskStore
	limiter    *resilience.TokenBucketLimiter
}

// NewIngressAdapter wires C9 over a dispatcher and task store.
func NewIngressAdapter(dispatcher *Dispatcher, tasks *TaskStore) *IngressAdapter {
	return &IngressAdapter{dispatcher: dispatcher, tasks: tasks}
}

// SetRateLimiter attaches a burst limiter guarding Ingest. Optional: a nil
// limiter leaves ingestion unbounded.
func (a *IngressAdapter) SetRateLimiter(limiter *resilience.TokenBucketLimiter) {
	a.limiter = limiter
}

// Ingest runs the full C9 contract and returns the dispatched job's id.
func (a *IngressAdapter) Ingest(ev WebhookEvent) (string, error) {
	if a.limiter != nil && !a.limiter.Allow() {
		return "", ErrIngressRateLimited
	}

	correlationID := uuid.New().String()
	ctx := WithCorrelationID(context.Background(), correlationID)

	if a.dispatcher.audit != nil {
		a.dispatcher.audit.Emit(ctx, Event{Kind: EventWebhookReceived, Description: "webhook received", Data: map[string]string{
			"jobType": ev.JobType,
		}})
	}

	task := a.tasks.Upsert(ev.RepositoryOwner, ev.RepositoryName, ev.IssueNumber, ev.InstallationID)
	idempotencyKey := ev.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("%s:%s", ev.JobType, task.Identity())
	}
	source := ev.Source
	if source == "" {
		source = "webhook"
	}

	job, err := New(ev.JobType, ev.Payload,
		WithPriority(ev.Priority),
		WithMaxRetries(ev.MaxRetries),
		WithIdempotencyKey(idempotencyKey),
		WithSource(source),
		WithParentJobID(task.ID),
		WithCorrelationID(correlationID),
	)
	if err != nil {
		return "", err
	}

	if err := a.dispatcher.Dispatch(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}
