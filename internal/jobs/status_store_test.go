package jobs

import (
	"context"
	"testing"
)

func TestMemoryStatusStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStatusStore()
	ctx := context.Background()

	j, _ := New("email", map[string]string{"to": "a@b.com"})
	rec := NewStatusRecord(j)

	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusQueued {
		t.Errorf("Status = %v, want Queued", got.Status)
	}
}

func TestMemoryStatusStore_GetMissingReturnsErrJobNotFound(t *testing.T) {
	s := NewMemoryStatusStore()
	if _, err := s.Get(context.Background(), "nope"); err != ErrJobNotFound {
		t.Errorf("Get() error = %v, want ErrJobNotFound", err)
	}
}

func TestMemoryStatusStore_DuplicateCreateRejected(t *testing.T) {
	s := NewMemoryStatusStore()
	ctx := context.Background()
	j, _ := New("email", nil)
	rec := NewStatusRecord(j)

	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Create(ctx, rec); err == nil {
		t.Error("expected error creating a duplicate job id")
	}
}

func TestMemoryStatusStore_UpdateMutatesInPlace(t *testing.T) {
	s := NewMemoryStatusStore()
	ctx := context.Background()
	j, _ := New("email", nil)
	s.Create(ctx, NewStatusRecord(j))

	err := s.Update(ctx, j.ID, func(r *StatusRecord) {
		r.Status = StatusProcessing
		r.StartedAt = TimePtr(r.CreatedAt)
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := s.Get(ctx, j.ID)
	if got.Status != StatusProcessing {
		t.Errorf("Status = %v, want Processing", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt should be set after update")
	}
}

func TestMemoryStatusStore_ListFiltersAndPaginates(t *testing.T) {
	s := NewMemoryStatusStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		j, _ := New("email", nil)
		s.Create(ctx, NewStatusRecord(j))
	}
	for i := 0; i < 2; i++ {
		j, _ := New("webhook", nil)
		s.Create(ctx, NewStatusRecord(j))
	}

	results, total, err := s.List(ctx, StatusFilter{Type: "email"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 5 || len(results) != 5 {
		t.Errorf("List() total=%d len=%d, want 5/5", total, len(results))
	}

	page, total, err := s.List(ctx, StatusFilter{Type: "email", Skip: 2, Take: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Errorf("List() paginated total=%d len=%d, want 5/2", total, len(page))
	}
}

func TestMemoryStatusStore_DeadLetterFiltersByStatus(t *testing.T) {
	s := NewMemoryStatusStore()
	ctx := context.Background()

	j1, _ := New("email", nil)
	s.Create(ctx, NewStatusRecord(j1))
	s.Update(ctx, j1.ID, func(r *StatusRecord) { r.Status = StatusDeadLetter })

	j2, _ := New("email", nil)
	s.Create(ctx, NewStatusRecord(j2))

	dlq, total, err := s.DeadLetter(ctx, 0, 0)
	if err != nil {
		t.Fatalf("DeadLetter() error = %v", err)
	}
	if total != 1 || len(dlq) != 1 || dlq[0].JobID != j1.ID {
		t.Errorf("DeadLetter() = %+v (total %d), want only %v", dlq, total, j1.ID)
	}
}

func TestMemoryStatusStore_MetricsComputesFailureRate(t *testing.T) {
	s := NewMemoryStatusStore()
	ctx := context.Background()

	mk := func(status Status) {
		j, _ := New("email", nil)
		s.Create(ctx, NewStatusRecord(j))
		s.Update(ctx, j.ID, func(r *StatusRecord) { r.Status = status })
	}
	mk(StatusCompleted)
	mk(StatusCompleted)
	mk(StatusFailed)
	mk(StatusQueued)

	m, err := s.Metrics(ctx)
	if err != nil {
		t.Fatalf("Metrics() error = %v", err)
	}
	if m.TotalJobs != 4 {
		t.Errorf("TotalJobs = %d, want 4", m.TotalJobs)
	}
	want := 1.0 / 4.0
	if m.FailureRate != want {
		t.Errorf("FailureRate = %v, want %v", m.FailureRate, want)
	}
}
