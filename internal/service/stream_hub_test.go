package service

import (
	"context"
	"encoding/json"
	"testing"

	"npuprof/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamHub_FiltersBySession(t *testing.T) {
	ctx := context.Background()
	hub := NewStreamHub()
	assert.Equal(t, "websocket", hub.Name())

	// no subscribers: nothing to do
	require.NoError(t, hub.Write(ctx, &model.OpRecord{ID: "early"}))

	allID, all := hub.Subscribe("")
	_, one := hub.Subscribe("s1")
	assert.Equal(t, 2, hub.Subscribers())

	require.NoError(t, hub.Write(ctx, &model.OpRecord{ID: "a", SessionID: "s1"}))
	require.NoError(t, hub.Write(ctx, &model.OpRecord{ID: "b", SessionID: "s2"}))

	var got model.OpRecord
	require.NoError(t, json.Unmarshal(<-all, &got))
	assert.Equal(t, "a", got.ID)
	require.NoError(t, json.Unmarshal(<-all, &got))
	assert.Equal(t, "b", got.ID)

	require.NoError(t, json.Unmarshal(<-one, &got))
	assert.Equal(t, "a", got.ID)
	assert.Empty(t, one)

	hub.Unsubscribe(allID)
	_, open := <-all
	assert.False(t, open)
	hub.Unsubscribe(allID)
	assert.Equal(t, 1, hub.Subscribers())
}

func TestStreamHub_SlowSubscriberDrops(t *testing.T) {
	ctx := context.Background()
	hub := NewStreamHub()
	_, ch := hub.Subscribe("")

	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, hub.Write(ctx, &model.OpRecord{ID: "r"}))
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, uint64(5), hub.Dropped())
}
