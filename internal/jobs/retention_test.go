package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakePurger struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (p *fakePurger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.deleted, p.err
}

func TestRetentionSweeper_SweepDeletesPastCutoff(t *testing.T) {
	purger := &fakePurger{deleted: 42}
	sweeper := NewRetentionSweeper(purger, 90, zap.NewNop())

	before := time.Now().AddDate(0, 0, -90)
	sweeper.Sweep(context.Background())
	after := time.Now().AddDate(0, 0, -90)

	if purger.cutoff.Before(before) || purger.cutoff.After(after) {
		t.Errorf("cutoff = %v, want between %v and %v", purger.cutoff, before, after)
	}
}

func TestRetentionSweeper_SweepSurvivesPurgerError(t *testing.T) {
	purger := &fakePurger{err: errors.New("db unavailable")}
	sweeper := NewRetentionSweeper(purger, 30, zap.NewNop())

	sweeper.Sweep(context.Background())
}
