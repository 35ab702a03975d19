package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var ErrInvalidCronExpression = errors.New("invalid cron expression")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Janitor prunes run history older than the retention window on a cron
// schedule.
type Janitor struct {
	store     *RunStore
	retention time.Duration
	cron      *cron.Cron
	logger    *zap.Logger
}

// NewJanitor validates expr and registers the prune job. Call Start to run it.
func NewJanitor(store *RunStore, retention time.Duration, expr string, logger *zap.Logger) (*Janitor, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCronExpression, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Janitor{
		store:     store,
		retention: retention,
		cron:      cron.New(cron.WithParser(cronParser)),
		logger:    logger,
	}
	if _, err := j.cron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = j.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCronExpression, err)
	}
	return j, nil
}

// RunOnce prunes immediately.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.store.now().Add(-j.retention)
	removed, err := j.store.PruneBefore(ctx, cutoff)
	if err != nil {
		j.logger.Warn("Run history prune failed", zap.Error(err))
		return 0, err
	}
	if removed > 0 {
		j.logger.Info("Pruned run history",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

// Start begins the schedule in the background.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running prune to finish.
func (j *Janitor) Stop() { <-j.cron.Stop().Done() }
