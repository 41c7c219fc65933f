package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// StatusFilter narrows List results. Zero-value fields are not applied.
type StatusFilter struct {
	Status string
	Type   string
	Source string
	Skip   int
	Take   int
}

// StoreMetrics summarizes the status store's current contents for C8's
// health aggregation and the /jobs/metrics endpoint.
type StoreMetrics struct {
	TotalJobs                int64
	QueuedCount              int64
	ProcessingCount          int64
	CompletedCount           int64
	FailedCount              int64
	CancelledCount           int64
	DeadLetterCount          int64
	AverageProcessingDurationMs float64
	AverageQueueWaitTimeMs      float64
	ByType                   map[string]*TypeMetrics
	// FailureRate is (failedCount+deadLetterCount) / max(totalJobs, 1).
	FailureRate float64
}

// TypeMetrics is the per-jobType breakdown of StoreMetrics' same fields.
type TypeMetrics struct {
	TotalJobs                   int64
	QueuedCount                 int64
	ProcessingCount             int64
	CompletedCount              int64
	FailedCount                 int64
	CancelledCount              int64
	DeadLetterCount             int64
	AverageProcessingDurationMs float64
	AverageQueueWaitTimeMs      float64
	FailureRate                 float64
}

func newTypeMetrics() *TypeMetrics { return &TypeMetrics{} }

func (m *TypeMetrics) finalize() {
	denominator := m.TotalJobs
	if denominator < 1 {
		denominator = 1
	}
	m.FailureRate = float64(m.FailedCount+m.DeadLetterCount) / float64(denominator)
}

// StatusStore owns the mutable lifecycle record for every dispatched job.
// Implementations must serialize concurrent Update calls for the same jobID.
type StatusStore interface {
	Create(ctx context.Context, rec *StatusRecord) error
	Get(ctx context.Context, jobID string) (*StatusRecord, error)
	// Update loads the record for jobID, applies mutate, and persists the
	// result atomically with respect to other Update/Get calls for the same id.
	Update(ctx context.Context, jobID string, mutate func(*StatusRecord)) error
	List(ctx context.Context, filter StatusFilter) ([]*StatusRecord, int, error)
	DeadLetter(ctx context.Context, skip, take int) ([]*StatusRecord, int, error)
	Metrics(ctx context.Context) (StoreMetrics, error)
	Ping(ctx context.Context) error
}

// MemoryStatusStore is C4's default backend: a concurrent map guarded by a
// single mutex, matching the job core's overall single-process scope.
type MemoryStatusStore struct {
	mu      sync.RWMutex
	records map[string]*StatusRecord
	order   []string // insertion order, for stable listing
}

// NewMemoryStatusStore returns an empty MemoryStatusStore.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{records: make(map[string]*StatusRecord)}
}

// Create stores rec under rec.JobID. It returns an error if the id is
// already present.
func (s *MemoryStatusStore) Create(ctx context.Context, rec *StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.JobID]; exists {
		return ErrDuplicateInFlight
	}
	s.records[rec.JobID] = rec.Clone()
	s.order = append(s.order, rec.JobID)
	return nil
}

// Get returns a clone of the record for jobID.
func (s *MemoryStatusStore) Get(ctx context.Context, jobID string) (*StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return rec.Clone(), nil
}

// Update applies mutate to the stored record for jobID under the store's
// lock, so concurrent transitions for the same job never interleave.
func (s *MemoryStatusStore) Update(ctx context.Context, jobID string, mutate func(*StatusRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[jobID]
	if !ok {
		return ErrJobNotFound
	}
	mutate(rec)
	return nil
}

// List returns records matching filter, newest-created first, paginated by
// Skip/Take (Take<=0 means no limit).
func (s *MemoryStatusStore) List(ctx context.Context, filter StatusFilter) ([]*StatusRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*StatusRecord, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		if filter.Status != "" && string(rec.Status) != filter.Status {
			continue
		}
		if filter.Type != "" && rec.JobType != filter.Type {
			continue
		}
		if filter.Source != "" && rec.Source != filter.Source {
			continue
		}
		matches = append(matches, rec.Clone())
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })

	total := len(matches)
	return paginate(matches, filter.Skip, filter.Take), total, nil
}

// DeadLetter returns records in StatusDeadLetter, newest-created first.
func (s *MemoryStatusStore) DeadLetter(ctx context.Context, skip, take int) ([]*StatusRecord, int, error) {
	return s.List(ctx, StatusFilter{Status: string(StatusDeadLetter), Skip: skip, Take: take})
}

// Metrics aggregates current store contents.
func (s *MemoryStatusStore) Metrics(ctx context.Context) (StoreMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := StoreMetrics{ByType: make(map[string]*TypeMetrics)}
	var processingTotal, processingCount, waitTotal, waitCount int64
	typeProcessingCount := make(map[string]int64)
	typeWaitCount := make(map[string]int64)

	for _, rec := range s.records {
		byType, ok := m.ByType[rec.JobType]
		if !ok {
			byType = newTypeMetrics()
			m.ByType[rec.JobType] = byType
		}

		m.TotalJobs++
		byType.TotalJobs++
		switch rec.Status {
		case StatusQueued:
			m.QueuedCount++
			byType.QueuedCount++
		case StatusProcessing:
			m.ProcessingCount++
			byType.ProcessingCount++
		case StatusCompleted:
			m.CompletedCount++
			byType.CompletedCount++
		case StatusCancelled:
			m.CancelledCount++
			byType.CancelledCount++
		case StatusFailed:
			m.FailedCount++
			byType.FailedCount++
		case StatusDeadLetter:
			m.DeadLetterCount++
			byType.DeadLetterCount++
		}

		if rec.ProcessingDurationMs != nil {
			processingTotal += *rec.ProcessingDurationMs
			processingCount++
			byType.AverageProcessingDurationMs += float64(*rec.ProcessingDurationMs)
			typeProcessingCount[rec.JobType]++
		}
		if rec.QueueWaitTimeMs != nil {
			waitTotal += *rec.QueueWaitTimeMs
			waitCount++
			byType.AverageQueueWaitTimeMs += float64(*rec.QueueWaitTimeMs)
			typeWaitCount[rec.JobType]++
		}
	}

	if processingCount > 0 {
		m.AverageProcessingDurationMs = float64(processingTotal) / float64(processingCount)
	}
	if waitCount > 0 {
		m.AverageQueueWaitTimeMs = float64(waitTotal) / float64(waitCount)
	}

	denominator := m.TotalJobs
	if denominator < 1 {
		denominator = 1
	}
	m.FailureRate = float64(m.FailedCount+m.DeadLetterCount) / float64(denominator)

	for jobType, byType := range m.ByType {
		if c := typeProcessingCount[jobType]; c > 0 {
			byType.AverageProcessingDurationMs /= float64(c)
		}
		if c := typeWaitCount[jobType]; c > 0 {
			byType.AverageQueueWaitTimeMs /= float64(c)
		}
		byType.finalize()
	}
	return m, nil
}

// Ping always succeeds for the in-memory backend.
func (s *MemoryStatusStore) Ping(ctx context.Context) error { return nil }

func paginate(recs []*StatusRecord, skip, take int) []*StatusRecord {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(recs) {
		return []*StatusRecord{}
	}
	end := len(recs)
	if take > 0 && skip+take < end {
		end = skip + take
	}
	return recs[skip:end]
}

// TimePtr returns a pointer to t, a small convenience for record fields typed
// as *time.Time.
func TimePtr(t time.Time) *time.Time { return &t }

// TimePtrNow returns a pointer to the current time.
func TimePtrNow() *time.Time { return TimePtr(time.Now()) }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }
