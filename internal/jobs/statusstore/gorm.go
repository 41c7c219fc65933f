// Package statusstore provides the durable A5 StatusStore backend: a
// GORM-mapped implementation of jobs.StatusStore over job_status_records and
// job_attempts, selectable alongside the in-memory store via configuration.
package statusstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/arcana-labs/jobcore/internal/jobs"
	"github.com/arcana-labs/jobcore/internal/resilience"
	"github.com/arcana-labs/jobcore/internal/utils"
)

// maxErrorMessageLen bounds error_message/exception_type columns so a
// runaway stack trace from a handler can't blow past typical TEXT column
// limits across mysql/postgres/sqlite.
const maxErrorMessageLen = 4000

// writeRetryConfig governs retry of transient write failures (lock
// contention, connection drops) against the status store, distinct from
// jobs.RetryPolicy which governs job-level handler retries.
var writeRetryConfig = &resilience.RetryConfig{
	MaxAttempts:         3,
	InitialInterval:     25 * time.Millisecond,
	MaxInterval:         250 * time.Millisecond,
	Multiplier:          2.0,
	RandomizationFactor: 0.5,
}

// transientErrorSubstrings identifies the class of write failures worth
// retrying: lock contention and connection drops, not constraint violations
// or not-found conditions.
var transientErrorSubstrings = []string{"deadlock", "lock wait timeout", "connection reset", "broken pipe", "connection refused"}

func isTransientWriteError(err error) bool {
	return err != nil && utils.ContainsAny(err.Error(), transientErrorSubstrings)
}

func retryTransient(ctx context.Context, fn func(context.Context) error) error {
	var nonTransient error
	err := resilience.Retry(ctx, writeRetryConfig, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && !isTransientWriteError(err) {
			nonTransient = err
			return nil
		}
		return err
	})
	if nonTransient != nil {
		return nonTransient
	}
	return err
}

// jobStatusRecordModel maps job_status_records.
type jobStatusRecordModel struct {
	JobID                string `gorm:"column:job_id;primaryKey"`
	JobType              string `gorm:"column:job_type;index"`
	Status               string `gorm:"column:status;index"`
	CreatedAt            time.Time `gorm:"column:created_at;index"`
	StartedAt            *time.Time `gorm:"column:started_at"`
	CompletedAt          *time.Time `gorm:"column:completed_at"`
	RetryCount           int    `gorm:"column:retry_count"`
	MaxRetries           int    `gorm:"column:max_retries"`
	LastRetryAt          *time.Time `gorm:"column:last_retry_at"`
	ProcessingDurationMs *int64 `gorm:"column:processing_duration_ms"`
	QueueWaitTimeMs      *int64 `gorm:"column:queue_wait_time_ms"`
	ErrorMessage         string `gorm:"column:error_message"`
	ResultData           []byte `gorm:"column:result_data"`
	IdempotencyKey        string `gorm:"column:idempotency_key;index"`
	CorrelationID        string `gorm:"column:correlation_id"`
	Source               string `gorm:"column:source"`
	ParentJobID          string `gorm:"column:parent_job_id"`
	Metadata             []byte `gorm:"column:metadata"`
}

func (jobStatusRecordModel) TableName() string { return "job_status_records" }

// jobAttemptModel maps job_attempts.
type jobAttemptModel struct {
	ID                   uint   `gorm:"column:id;primaryKey;autoIncrement"`
	JobID                string `gorm:"column:job_id;index"`
	AttemptNumber        int    `gorm:"column:attempt_number"`
	StartedAt            time.Time `gorm:"column:started_at"`
	CompletedAt          time.Time `gorm:"column:completed_at"`
	Succeeded            bool   `gorm:"column:succeeded"`
	ErrorMessage         string `gorm:"column:error_message"`
	ExceptionType        string `gorm:"column:exception_type"`
	DurationMs           int64  `gorm:"column:duration_ms"`
	DelayBeforeAttemptMs int64  `gorm:"column:delay_before_attempt_ms"`
	BackoffStrategy      string `gorm:"column:backoff_strategy"`
}

func (jobAttemptModel) TableName() string { return "job_attempts" }

// Store is the GORM-backed A5 StatusStore. It satisfies jobs.StatusStore.
type Store struct {
	db *gorm.DB
}

// New wires a Store over an already-connected *gorm.DB and runs AutoMigrate
// for job_status_records and job_attempts.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&jobStatusRecordModel{}, &jobAttemptModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Create inserts the initial status record for a freshly dispatched job.
func (s *Store) Create(ctx context.Context, rec *jobs.StatusRecord) error {
	model, err := toModel(rec)
	if err != nil {
		return err
	}
	return retryTransient(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Create(model).Error
	})
}

// Get loads a status record by job id, including its attempt history.
func (s *Store) Get(ctx context.Context, jobID string) (*jobs.StatusRecord, error) {
	var model jobStatusRecordModel
	if err := s.db.WithContext(ctx).First(&model, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, jobs.ErrJobNotFound
		}
		return nil, err
	}
	var attempts []jobAttemptModel
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("attempt_number asc").Find(&attempts).Error; err != nil {
		return nil, err
	}
	return fromModel(&model, attempts)
}

// Update loads, mutates and persists a status record transactionally, also
// appending any new attempts the mutator produced.
func (s *Store) Update(ctx context.Context, jobID string, mutate func(*jobs.StatusRecord)) error {
	var notFound bool
	err := retryTransient(ctx, func(ctx context.Context) error {
		err := s.update(ctx, jobID, mutate)
		if errors.Is(err, jobs.ErrJobNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if notFound {
		return jobs.ErrJobNotFound
	}
	return err
}

func (s *Store) update(ctx context.Context, jobID string, mutate func(*jobs.StatusRecord)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model jobStatusRecordModel
		if err := tx.First(&model, "job_id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return jobs.ErrJobNotFound
			}
			return err
		}
		var attempts []jobAttemptModel
		if err := tx.Where("job_id = ?", jobID).Order("attempt_number asc").Find(&attempts).Error; err != nil {
			return err
		}
		rec, err := fromModel(&model, attempts)
		if err != nil {
			return err
		}
		before := len(rec.Attempts)
		mutate(rec)

		updated, err := toModel(rec)
		if err != nil {
			return err
		}
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		for i := before; i < len(rec.Attempts); i++ {
			if err := tx.Create(toAttemptModel(jobID, rec.Attempts[i])).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns a filtered, paginated page of status records.
func (s *Store) List(ctx context.Context, filter jobs.StatusFilter) ([]*jobs.StatusRecord, int, error) {
	q := s.db.WithContext(ctx).Model(&jobStatusRecordModel{})
	q = applyFilter(q, filter)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	take := filter.Take
	if take <= 0 {
		take = 50
	}
	var models []jobStatusRecordModel
	listQ := s.db.WithContext(ctx).Model(&jobStatusRecordModel{})
	listQ = applyFilter(listQ, filter)
	if err := listQ.Order("created_at desc").Offset(filter.Skip).Limit(take).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	recs := make([]*jobs.StatusRecord, 0, len(models))
	for i := range models {
		rec, err := fromModel(&models[i], nil)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	return recs, int(total), nil
}

func applyFilter(q *gorm.DB, filter jobs.StatusFilter) *gorm.DB {
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("job_type = ?", filter.Type)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	return q
}

// DeadLetter returns a paginated page of dead-lettered jobs.
func (s *Store) DeadLetter(ctx context.Context, skip, take int) ([]*jobs.StatusRecord, int, error) {
	return s.List(ctx, jobs.StatusFilter{Status: string(jobs.StatusDeadLetter), Skip: skip, Take: take})
}

// Metrics aggregates counts across every status plus the overall failure
// rate and per-type duration averages.
func (s *Store) Metrics(ctx context.Context) (jobs.StoreMetrics, error) {
	var rows []struct {
		Status                  string
		Type                    string
		Count                   int64
		SumProcessingDurationMs int64
		CountProcessingDuration int64
		SumQueueWaitTimeMs      int64
		CountQueueWaitTime      int64
	}
	err := s.db.WithContext(ctx).Model(&jobStatusRecordModel{}).
		Select(`status, job_type as type, count(*) as count,
			coalesce(sum(processing_duration_ms), 0) as sum_processing_duration_ms,
			count(processing_duration_ms) as count_processing_duration,
			coalesce(sum(queue_wait_time_ms), 0) as sum_queue_wait_time_ms,
			count(queue_wait_time_ms) as count_queue_wait_time`).
		Group("status, job_type").
		Scan(&rows).Error
	if err != nil {
		return jobs.StoreMetrics{}, err
	}

	m := jobs.StoreMetrics{ByType: make(map[string]*jobs.TypeMetrics)}
	var processingTotal, processingCount, waitTotal, waitCount int64
	typeProcessingCount := make(map[string]int64)
	typeWaitCount := make(map[string]int64)

	for _, row := range rows {
		byType, ok := m.ByType[row.Type]
		if !ok {
			byType = &jobs.TypeMetrics{}
			m.ByType[row.Type] = byType
		}

		m.TotalJobs += row.Count
		byType.TotalJobs += row.Count
		switch jobs.Status(row.Status) {
		case jobs.StatusQueued:
			m.QueuedCount += row.Count
			byType.QueuedCount += row.Count
		case jobs.StatusProcessing:
			m.ProcessingCount += row.Count
			byType.ProcessingCount += row.Count
		case jobs.StatusCompleted:
			m.CompletedCount += row.Count
			byType.CompletedCount += row.Count
		case jobs.StatusCancelled:
			m.CancelledCount += row.Count
			byType.CancelledCount += row.Count
		case jobs.StatusFailed:
			m.FailedCount += row.Count
			byType.FailedCount += row.Count
		case jobs.StatusDeadLetter:
			m.DeadLetterCount += row.Count
			byType.DeadLetterCount += row.Count
		}

		processingTotal += row.SumProcessingDurationMs
		processingCount += row.CountProcessingDuration
		waitTotal += row.SumQueueWaitTimeMs
		waitCount += row.CountQueueWaitTime
		typeProcessingCount[row.Type] += row.CountProcessingDuration
		typeWaitCount[row.Type] += row.CountQueueWaitTime
		if row.CountProcessingDuration > 0 {
			byType.AverageProcessingDurationMs += float64(row.SumProcessingDurationMs)
		}
		if row.CountQueueWaitTime > 0 {
			byType.AverageQueueWaitTimeMs += float64(row.SumQueueWaitTimeMs)
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
		denom := byType.TotalJobs
		if denom < 1 {
			denom = 1
		}
		byType.FailureRate = float64(byType.FailedCount+byType.DeadLetterCount) / float64(denom)
	}
	return m, nil
}

// Ping verifies the underlying SQL connection is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func toModel(rec *jobs.StatusRecord) (*jobStatusRecordModel, error) {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return nil, err
	}
	resultData := []byte(rec.ResultData)
	if resultData == nil {
		resultData = []byte("null")
	}
	return &jobStatusRecordModel{
		JobID:                rec.JobID,
		JobType:              rec.JobType,
		Status:               string(rec.Status),
		CreatedAt:            rec.CreatedAt,
		StartedAt:            rec.StartedAt,
		CompletedAt:          rec.CompletedAt,
		RetryCount:           rec.RetryCount,
		MaxRetries:           rec.MaxRetries,
		LastRetryAt:          rec.LastRetryAt,
		ProcessingDurationMs: rec.ProcessingDurationMs,
		QueueWaitTimeMs:      rec.QueueWaitTimeMs,
		ErrorMessage:         utils.TruncateString(rec.ErrorMessage, maxErrorMessageLen),
		ResultData:           resultData,
		IdempotencyKey:       rec.IdempotencyKey,
		CorrelationID:        rec.CorrelationID,
		Source:               rec.Source,
		ParentJobID:          rec.ParentJobID,
		Metadata:             metadata,
	}, nil
}

func fromModel(model *jobStatusRecordModel, attempts []jobAttemptModel) (*jobs.StatusRecord, error) {
	var metadata map[string]string
	if len(model.Metadata) > 0 {
		if err := json.Unmarshal(model.Metadata, &metadata); err != nil {
			return nil, err
		}
	}

	rec := &jobs.StatusRecord{
		JobID:                model.JobID,
		JobType:              model.JobType,
		Status:               jobs.Status(model.Status),
		CreatedAt:            model.CreatedAt,
		StartedAt:            model.StartedAt,
		CompletedAt:          model.CompletedAt,
		RetryCount:           model.RetryCount,
		MaxRetries:           model.MaxRetries,
		LastRetryAt:          model.LastRetryAt,
		ProcessingDurationMs: model.ProcessingDurationMs,
		QueueWaitTimeMs:      model.QueueWaitTimeMs,
		ErrorMessage:         model.ErrorMessage,
		ResultData:           json.RawMessage(model.ResultData),
		IdempotencyKey:       model.IdempotencyKey,
		CorrelationID:        model.CorrelationID,
		Source:               model.Source,
		ParentJobID:          model.ParentJobID,
		Metadata:             metadata,
	}
	for _, a := range attempts {
		rec.Attempts = append(rec.Attempts, jobs.Attempt{
			AttemptNumber:        a.AttemptNumber,
			StartedAt:            a.StartedAt,
			CompletedAt:          a.CompletedAt,
			Succeeded:            a.Succeeded,
			ErrorMessage:         a.ErrorMessage,
			ExceptionType:        a.ExceptionType,
			DurationMs:           a.DurationMs,
			DelayBeforeAttemptMs: a.DelayBeforeAttemptMs,
			BackoffStrategy:      jobs.BackoffStrategy(a.BackoffStrategy),
		})
	}
	return rec, nil
}

func toAttemptModel(jobID string, a jobs.Attempt) *jobAttemptModel {
	return &jobAttemptModel{
		JobID:                jobID,
		AttemptNumber:        a.AttemptNumber,
		StartedAt:            a.StartedAt,
		CompletedAt:          a.CompletedAt,
		Succeeded:            a.Succeeded,
		ErrorMessage:         utils.TruncateString(a.ErrorMessage, maxErrorMessageLen),
		ExceptionType:        utils.TruncateString(a.ExceptionType, 255),
		DurationMs:           a.DurationMs,
		DelayBeforeAttemptMs: a.DelayBeforeAttemptMs,
		BackoffStrategy:      string(a.BackoffStrategy),
	}
}
