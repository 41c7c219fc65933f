package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arcana-labs/jobcore/internal/jobs"
)

func newTestPool(t *testing.T, concurrency int) (*Pool, *jobs.Queue, *jobs.Dispatcher, jobs.StatusStore) {
	t.Helper()
	queue := jobs.NewQueue(10)
	store := jobs.NewMemoryStatusStore()
	dedup := jobs.NewDeduplicator()
	dispatcher := jobs.NewDispatcher(store, queue, dedup, nil, zap.NewNop())
	pool := NewPool(queue, dispatcher, store, nil, zap.NewNop(), concurrency, time.Second, time.Second)
	return pool, queue, dispatcher, store
}

func waitForStatus(t *testing.T, store jobs.StatusStore, jobID string, want jobs.Status, timeout time.Duration) *jobs.StatusRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, err := store.Get(context.Background(), jobID)
		if err == nil && rec.Status == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %v within %v", jobID, want, timeout)
	return nil
}

func TestPool_ProcessesSuccessfulJob(t *testing.T) {
	pool, _, dispatcher, store := newTestPool(t, 2)
	dispatcher.RegisterHandler("noop", jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) jobs.Result {
		return jobs.Success(nil)
	}))

	ctx := context.Background()
	job, _ := jobs.New("noop", map[string]string{})
	if err := dispatcher.Dispatch(ctx, job); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	pool.Start(ctx)
	defer pool.Stop()

	waitForStatus(t, store, job.ID, jobs.StatusCompleted, time.Second)
}

func TestPool_FailsPermanentlyOnNonRetryableFailure(t *testing.T) {
	pool, _, dispatcher, store := newTestPool(t, 1)
	dispatcher.RegisterHandler("boom", jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) jobs.Result {
		return jobs.Failure(errors.New("permanent"), false, "PermanentHandlerFailure")
	}))

	ctx := context.Background()
	job, _ := jobs.New("boom", map[string]string{})
	dispatcher.Dispatch(ctx, job)

	pool.Start(ctx)
	defer pool.Stop()

	waitForStatus(t, store, job.ID, jobs.StatusFailed, time.Second)
}

func TestPool_DeadLettersWhenRetriesExhausted(t *testing.T) {
	pool, _, dispatcher, store := newTestPool(t, 1)
	dispatcher.RegisterHandler("flaky", jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) jobs.Result {
		return jobs.Failure(errors.New("transient"), true, "TransientHandlerFailure")
	}))

	ctx := context.Background()
	job, _ := jobs.New("flaky", map[string]string{}, jobs.WithRetryPolicy(jobs.RetryPolicy{
		Enabled: true, MaxRetries: 1, BackoffStrategy: jobs.BackoffConstant, BaseDelayMs: 5, MaxDelayMs: 20,
	}))
	dispatcher.Dispatch(ctx, job)

	pool.Start(ctx)
	defer pool.Stop()

	waitForStatus(t, store, job.ID, jobs.StatusDeadLetter, 2*time.Second)
}

func TestPool_RetriesThenCompletes(t *testing.T) {
	pool, _, dispatcher, store := newTestPool(t, 1)

	var attempts int
	dispatcher.RegisterHandler("flaky", jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) jobs.Result {
		attempts++
		if attempts < 2 {
			return jobs.Failure(errors.New("transient"), true, "TransientHandlerFailure")
		}
		return jobs.Success(nil)
	}))

	ctx := context.Background()
	job, _ := jobs.New("flaky", map[string]string{}, jobs.WithRetryPolicy(jobs.RetryPolicy{
		Enabled: true, MaxRetries: 3, BackoffStrategy: jobs.BackoffConstant, BaseDelayMs: 10, MaxDelayMs: 100,
	}))
	dispatcher.Dispatch(ctx, job)

	pool.Start(ctx)
	defer pool.Stop()

	waitForStatus(t, store, job.ID, jobs.StatusCompleted, 2*time.Second)
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestPool_CancelDuringProcessingTransitionsToCancelled(t *testing.T) {
	pool, _, dispatcher, store := newTestPool(t, 1)
	started := make(chan struct{})
	dispatcher.RegisterHandler("slow", jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) jobs.Result {
		close(started)
		<-ctx.Done()
		return jobs.Failure(ctx.Err(), true, "Cancelled")
	}))

	ctx := context.Background()
	job, _ := jobs.New("slow", map[string]string{})
	dispatcher.Dispatch(ctx, job)

	pool.Start(ctx)
	defer pool.Stop()

	<-started
	if err := dispatcher.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	waitForStatus(t, store, job.ID, jobs.StatusCancelled, time.Second)
}

func TestPool_NoHandlerFailsJob(t *testing.T) {
	pool, queue, dispatcher, store := newTestPool(t, 1)
	dispatcher.RegisterHandler("known", jobs.HandlerFunc(func(ctx context.Context, job *jobs.Job) jobs.Result {
		return jobs.Success(nil)
	}))

	ctx := context.Background()
	// Bypass Dispatch's own NoHandler rejection to exercise the worker's
	// own no-handler path as it would see a job whose handler was
	// deregistered after admission.
	job, _ := jobs.New("unknown", map[string]string{})
	store.Create(ctx, jobs.NewStatusRecord(job))
	queue.Enqueue(ctx, job)

	pool.Start(ctx)
	defer pool.Stop()

	waitForStatus(t, store, job.ID, jobs.StatusFailed, time.Second)
}
