package statusstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/arcana-labs/jobcore/internal/jobs"
	"github.com/arcana-labs/jobcore/internal/utils"
)

// auditLogModel maps audit_logs.
type auditLogModel struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement"`
	EventType     string    `gorm:"column:event_type;index"`
	Timestamp     time.Time `gorm:"column:timestamp;index"`
	CorrelationID string    `gorm:"column:correlation_id;index"`
	Description   string    `gorm:"column:description"`
	Data          []byte    `gorm:"column:data"`
	Initiator     string    `gorm:"column:initiator"`
	Target        string    `gorm:"column:target"`
	Result        string    `gorm:"column:result"`
	DurationMs    int64     `gorm:"column:duration_ms"`
	ErrorMessage  string    `gorm:"column:error_message"`
}

func (auditLogModel) TableName() string { return "audit_logs" }

// AuditSink is the durable A5 backend for jobs.AuditSink: every emitted
// event is appended to audit_logs rather than only kept in the in-memory
// ring buffer.
type AuditSink struct {
	db *gorm.DB
}

// NewAuditSink wires an AuditSink over db and migrates audit_logs.
func NewAuditSink(db *gorm.DB) (*AuditSink, error) {
	if err := db.AutoMigrate(&auditLogModel{}); err != nil {
		return nil, err
	}
	return &AuditSink{db: db}, nil
}

// DeleteOlderThan removes audit_logs rows whose timestamp precedes cutoff,
// returning the number of rows deleted. A6's retention sweeper calls this on
// a daily schedule.
func (s *AuditSink) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&auditLogModel{})
	return result.RowsAffected, result.Error
}

// Persist appends e to audit_logs.
func (s *AuditSink) Persist(ctx context.Context, e jobs.Event) error {
	data, err := e.MarshalData()
	if err != nil {
		return err
	}
	model := &auditLogModel{
		EventType:     string(e.Kind),
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
		Description:   e.Description,
		Data:          data,
		Initiator:     e.Initiator,
		Target:        e.Target,
		Result:        e.Result,
		DurationMs:    e.DurationMs,
		ErrorMessage:  utils.TruncateString(e.ErrorMessage, maxErrorMessageLen),
	}
	return retryTransient(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Create(model).Error
	})
}
