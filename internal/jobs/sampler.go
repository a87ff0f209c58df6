package jobs

import (
	"context"
	"time"

	"npuprof/internal/analyzer"
	"npuprof/pkg/monitoring"
)

// StatsSource is an analyzer session
type StatsSource interface {
	Stats() analyzer.Stats
	LogStats(ctx context.Context)
}

// samplerJob copies the pending-table sizes into the gauges and logs the
// per-parser totals.
type samplerJob struct {
	interval time.Duration
	source   StatsSource
	logEvery int
	runs     int
}

// NewSamplerJob samples source every interval and logs its totals every
// logEvery runs.
func NewSamplerJob(interval time.Duration, source StatsSource, logEvery int) Job {
	if logEvery <= 0 {
		logEvery = 1
	}
	return &samplerJob{interval: interval, source: source, logEvery: logEvery}
}

func (j *samplerJob) Name() string { return "session-sampler" }

func (j *samplerJob) Interval() time.Duration { return j.interval }

func (j *samplerJob) Run(ctx context.Context) error {
	monitoring.ObserveSession(j.source.Stats())
	j.runs++
	if j.runs%j.logEvery == 0 {
		j.source.LogStats(ctx)
	}
	return nil
}
