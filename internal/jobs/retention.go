package jobs

import (
	"context"
	"fmt"
	"time"

	"npuprof/pkg/interfaces"
	"npuprof/pkg/logger"
)

// RecordPurger deletes records received before a cutoff
type RecordPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type retentionJob struct {
	interval  time.Duration
	retention time.Duration
	purger    RecordPurger
	now       func() time.Time
}

// NewRetentionJob removes persisted op records older than retention
func NewRetentionJob(interval, retention time.Duration, purger RecordPurger) Job {
	return &retentionJob{interval: interval, retention: retention, purger: purger, now: time.Now}
}

func (j *retentionJob) Name() string { return "record-retention" }

func (j *retentionJob) Interval() time.Duration { return j.interval }

func (j *retentionJob) Run(ctx context.Context) error {
	if j.retention <= 0 {
		return nil
	}
	before := j.now().Add(-j.retention)
	rows, err := j.purger.DeleteOlderThan(ctx, before)
	if err != nil {
		return err
	}
	if rows > 0 {
		logger.InfoCtx(ctx, "cleaned up %d op records received before %s", rows, before.Format(time.RFC3339))
	}
	return nil
}

type flushJob struct {
	interval time.Duration
	target   interfaces.Flusher
}

// NewFlushJob periodically flushes buffered and retained records
func NewFlushJob(interval time.Duration, target interfaces.Flusher) Job {
	return &flushJob{interval: interval, target: target}
}

func (j *flushJob) Name() string { return "record-flush" }

func (j *flushJob) Interval() time.Duration { return j.interval }

func (j *flushJob) Run(ctx context.Context) error {
	if err := j.target.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
