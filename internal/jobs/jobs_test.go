package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"npuprof/internal/analyzer"
	"npuprof/pkg/lock"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name     string
	interval time.Duration
	runs     atomic.Int32
	err      error
}

func (j *countingJob) Name() string            { return j.name }
func (j *countingJob) Interval() time.Duration { return j.interval }
func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestManager_RunsUntilStopped(t *testing.T) {
	m := NewManager(context.Background())
	ok := &countingJob{name: "ok", interval: 5 * time.Millisecond}
	failing := &countingJob{name: "failing", interval: 5 * time.Millisecond, err: errors.New("boom")}
	m.Register(ok)
	m.Register(failing)
	m.Register(nil)
	assert.Equal(t, []string{"ok", "failing"}, m.Names())

	m.Start()
	m.Start()
	require.Eventually(t, func() bool {
		return ok.runs.Load() >= 2 && failing.runs.Load() >= 2
	}, time.Second, time.Millisecond)

	m.Stop()
	m.Wait()
	n := ok.runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, ok.runs.Load(), "no runs after stop")
}

func TestWithLock_SkipsWhenHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingJob{name: "retention", interval: time.Minute}
	job := WithLock(inner, lock.NewRedisLock(client, "jobs:retention"))
	assert.Equal(t, "retention", job.Name())

	other := lock.NewRedisLock(client, "jobs:retention")
	ok, err := other.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, job.Run(ctx))
	assert.Zero(t, inner.runs.Load())

	require.NoError(t, other.Unlock(ctx))
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, int32(1), inner.runs.Load())
	assert.False(t, mr.Exists("jobs:retention"), "lock released after the run")

	assert.Same(t, inner, WithLock(inner, nil))
}

type fakeSource struct {
	stats analyzer.Stats
	logs  int
}

func (f *fakeSource) Stats() analyzer.Stats      { return f.stats }
func (f *fakeSource) LogStats(ctx context.Context) { f.logs++ }

func TestSamplerJob_LogsEveryN(t *testing.T) {
	src := &fakeSource{stats: analyzer.Stats{ResultCount: 4}}
	job := NewSamplerJob(time.Second, src, 3)
	for i := 0; i < 7; i++ {
		require.NoError(t, job.Run(context.Background()))
	}
	assert.Equal(t, 2, src.logs)
}

type fakePurger struct {
	cutoff time.Time
	rows   int64
	err    error
}

func (p *fakePurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.rows, p.err
}

func TestRetentionJob(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	p := &fakePurger{rows: 3}
	job := NewRetentionJob(time.Minute, 24*time.Hour, p).(*retentionJob)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.Add(-24*time.Hour), p.cutoff)

	p.err = errors.New("db down")
	assert.ErrorIs(t, job.Run(context.Background()), p.err)

	disabled := &fakePurger{}
	require.NoError(t, NewRetentionJob(time.Minute, 0, disabled).Run(context.Background()))
	assert.True(t, disabled.cutoff.IsZero())
}

type fakeFlusher struct{ err error }

func (f fakeFlusher) Flush(context.Context) error { return f.err }

func TestFlushJob(t *testing.T) {
	require.NoError(t, NewFlushJob(time.Second, fakeFlusher{}).Run(context.Background()))
	err := NewFlushJob(time.Second, fakeFlusher{err: errors.New("sink down")}).Run(context.Background())
	assert.ErrorContains(t, err, "sink down")
}
