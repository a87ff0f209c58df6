package asynq

import (
	"context"
	"errors"
	"testing"

	"npuprof/internal/model"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	got []*model.OpRecord
	err error
}

func (f *fakeWriter) Create(_ context.Context, rec *model.OpRecord) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, rec)
	return nil
}

func TestPersistHandler(t *testing.T) {
	w := &fakeWriter{}
	task, err := NewPersistTask(&model.OpRecord{ID: "r1", OpName: "conv1", Start: 10, End: 20})
	require.NoError(t, err)
	assert.Equal(t, TypeRecordPersist, task.Type())

	require.NoError(t, PersistHandler(w)(context.Background(), task))
	require.Len(t, w.got, 1)
	assert.Equal(t, "conv1", w.got[0].OpName)
	assert.Equal(t, uint64(20), w.got[0].End)
}

func TestPersistHandler_MalformedPayloadSkipsRetry(t *testing.T) {
	w := &fakeWriter{}
	err := PersistHandler(w)(context.Background(), asynq.NewTask(TypeRecordPersist, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Empty(t, w.got)
}

func TestPersistHandler_WriteErrorIsRetried(t *testing.T) {
	w := &fakeWriter{err: errors.New("db down")}
	task, err := NewPersistTask(&model.OpRecord{ID: "r2"})
	require.NoError(t, err)

	err = PersistHandler(w)(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}
