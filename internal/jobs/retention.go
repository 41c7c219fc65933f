package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AuditRetentionPurger is satisfied by a durable audit sink that can delete
// rows older than a cutoff. The in-memory ring buffer has no equivalent: it
// self-truncates on overwrite and needs no sweeper.
type AuditRetentionPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionSweeper is A6: a scheduled job that prunes audit_logs rows past
// their retention window. It is driven externally (by a cron scheduler in
// the bootstrap layer); Sweep is the unit of work it calls each tick.
type RetentionSweeper struct {
	purger        AuditRetentionPurger
	retentionDays int
	logger        *zap.Logger
}

// NewRetentionSweeper wires A6 over a durable audit sink and the configured
// retention window.
func NewRetentionSweeper(purger AuditRetentionPurger, retentionDays int, logger *zap.Logger) *RetentionSweeper {
	return &RetentionSweeper{purger: purger, retentionDays: retentionDays, logger: logger}
}

// Sweep deletes every audit_logs row older than retentionDays.
func (s *RetentionSweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	deleted, err := s.purger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("audit log retention sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("audit log retention sweep complete", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
}
