package hashdict

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDictionary_InMemory(t *testing.T) {
	ctx := context.Background()
	d := New()
	assert.False(t, d.HasRedis())

	require.NoError(t, d.Register(ctx, 7, "conv1"))
	assert.Equal(t, "conv1", d.Resolve(7))
	assert.Equal(t, "", d.Resolve(8))
	assert.Equal(t, 1, d.Size())

	require.NoError(t, d.Clear(ctx))
	assert.Equal(t, "", d.Resolve(7))
}

func TestDictionary_WithRedis(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	d := New().WithRedis(client, "")
	require.True(t, d.HasRedis())

	require.NoError(t, d.Register(ctx, 7, "conv1"))
	assert.Equal(t, "conv1", mr.HGet(DefaultKey, "7"))

	// another process registered an id this one never saw
	mr.HSet(DefaultKey, "9", "Relu")
	assert.Equal(t, "Relu", d.Resolve(9))
	assert.Equal(t, 2, d.Size())

	assert.Equal(t, "", d.Resolve(10))
}

func TestDictionary_Load(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	mr.HSet("custom", "1", "a", "2", "b", "junk", "c")

	d := New().WithRedis(client, "custom")
	n, err := d.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "b", d.Resolve(2))

	require.NoError(t, d.Clear(ctx))
	assert.False(t, mr.Exists("custom"))
	assert.Zero(t, d.Size())
}

func TestDictionary_RedisDownKeepsMemory(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	d := New().WithRedis(client, "")
	mr.Close()

	assert.Error(t, d.Register(ctx, 7, "conv1"))
	assert.Equal(t, "conv1", d.Resolve(7))
	assert.Equal(t, "", d.Resolve(8))
}
