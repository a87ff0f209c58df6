package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"npuprof/internal/model"
	"npuprof/pkg/interfaces"
	redisstore "npuprof/pkg/store/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchWriter struct {
	mu      sync.Mutex
	batches [][]*model.OpRecord
	fail    error
}

func (b *batchWriter) CreateBatch(_ context.Context, recs []*model.OpRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.batches = append(b.batches, append([]*model.OpRecord(nil), recs...))
	return nil
}

func (b *batchWriter) sizes() [][]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]int, 0, len(b.batches))
	for _, batch := range b.batches {
		out = append(out, []int{len(batch)})
	}
	return out
}

func TestMySQLSink_Batches(t *testing.T) {
	ctx := context.Background()
	w := &batchWriter{}
	s := NewMySQLSink(w, 2)
	assert.Equal(t, "mysql", s.Name())

	require.NoError(t, s.Write(ctx, &model.OpRecord{ID: "a"}))
	assert.Empty(t, w.sizes())
	require.NoError(t, s.Write(ctx, &model.OpRecord{ID: "b"}))
	assert.Equal(t, [][]int{{2}}, w.sizes())

	w.fail = errors.New("db down")
	require.NoError(t, s.Write(ctx, &model.OpRecord{ID: "c"}))
	require.NoError(t, s.Write(ctx, &model.OpRecord{ID: "d"}), "a buffered record is not a failed write")
	assert.Equal(t, 2, s.Buffered(), "records stay buffered after a failed insert")
	assert.Error(t, s.Flush(ctx))

	w.fail = nil
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, [][]int{{2}, {2}}, w.sizes())
	assert.Zero(t, s.Buffered())
}

func TestMySQLSink_DeduplicatesBufferedRecords(t *testing.T) {
	ctx := context.Background()
	w := &batchWriter{fail: errors.New("db down")}
	s := NewMySQLSink(w, 1)

	rec := &model.OpRecord{ID: "same"}
	require.NoError(t, s.Write(ctx, rec))
	require.NoError(t, s.Write(ctx, rec))
	assert.Equal(t, 1, s.Buffered())

	w.fail = nil
	require.NoError(t, s.Flush(ctx))
	require.Len(t, w.batches, 1)
	require.Len(t, w.batches[0], 1)
	assert.Equal(t, "same", w.batches[0][0].ID)

	// a flushed id may be buffered again
	require.NoError(t, s.Write(ctx, rec))
	assert.Len(t, w.batches, 2)
}

func TestMySQLSink_BufferIsBounded(t *testing.T) {
	ctx := context.Background()
	w := &batchWriter{fail: errors.New("db down")}
	s := NewMySQLSink(w, 1)

	for i := 0; i < maxRetained+2; i++ {
		require.NoError(t, s.Write(ctx, &model.OpRecord{ID: fmt.Sprintf("r%d", i)}))
	}
	assert.Equal(t, maxRetained, s.Buffered())
	assert.Equal(t, uint64(2), s.Dropped())
}

func TestRedisSink_Write(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := redisstore.NewOpRecordStore(client, "recs", 10)
	s := NewRedisSink(store)
	assert.Equal(t, "redis", s.Name())
	require.NoError(t, s.Write(context.Background(), &model.OpRecord{ID: "r1", SessionID: "s"}))

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

type fakeQueue struct {
	recs []*model.OpRecord
	err  error
}

func (q *fakeQueue) EnqueueRecord(_ context.Context, rec *model.OpRecord) error {
	if q.err != nil {
		return q.err
	}
	q.recs = append(q.recs, rec)
	return nil
}

func (q *fakeQueue) Stats(context.Context) (*interfaces.QueueStats, error) {
	return &interfaces.QueueStats{PendingCount: len(q.recs)}, nil
}

func (q *fakeQueue) Close() error { return nil }

func TestQueueSink_Write(t *testing.T) {
	q := &fakeQueue{}
	s := NewQueueSink(q)
	assert.Equal(t, "queue", s.Name())
	require.NoError(t, s.Write(context.Background(), &model.OpRecord{ID: "x"}))
	assert.Len(t, q.recs, 1)

	q.err = errors.New("redis down")
	err := s.Write(context.Background(), &model.OpRecord{ID: "y"})
	assert.ErrorIs(t, err, q.err)
}
