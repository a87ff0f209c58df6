package opregistry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_InternAndTakeOnce(t *testing.T) {
	r := New()

	idx, err := r.Intern("Conv2D", "conv1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)

	name := r.TakeName(1)
	require.True(t, name.Ok())
	assert.Equal(t, "conv1", name.Value)

	again := r.TakeName(1)
	assert.False(t, again.Ok())
	assert.ErrorIs(t, again.Err, ErrAlreadyConsumed)

	typ, err := r.TakeType(1).Get()
	require.NoError(t, err)
	assert.Equal(t, "Conv2D", typ)
	assert.ErrorIs(t, r.TakeType(1).Err, ErrAlreadyConsumed)
}

func TestRegistry_SequentialIndexes(t *testing.T) {
	r := New()
	for want := uint64(1); want <= 5; want++ {
		idx, err := r.Intern("MatMul", "mm")
		require.NoError(t, err)
		assert.Equal(t, want, idx)
	}
	assert.Equal(t, 5, r.Len())
}

func TestRegistry_UnknownIndex(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.TakeName(0).Err, ErrUnknownIndex)
	assert.ErrorIs(t, r.TakeType(7).Err, ErrUnknownIndex)
}

func TestRegistry_LenCountsPartiallyRead(t *testing.T) {
	r := New()
	_, _ = r.Intern("A", "a")
	_, _ = r.Intern("B", "b")

	r.TakeName(1)
	assert.Equal(t, 2, r.Len())
	r.TakeType(1)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Exhausted(t *testing.T) {
	r := newWithLimit(2)
	_, err := r.Intern("A", "a")
	require.NoError(t, err)
	_, err = r.Intern("B", "b")
	require.NoError(t, err)

	idx, err := r.Intern("C", "c")
	assert.ErrorIs(t, err, ErrIndexExhausted)
	assert.Zero(t, idx)
	assert.True(t, r.Exhausted())

	// earlier entries stay readable
	assert.Equal(t, "b", r.TakeName(2).Value)
}

func TestRegistry_ConcurrentIntern(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	seen := make(chan uint64, 400)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				idx, err := r.Intern("T", "n")
				if err == nil {
					seen <- idx
				}
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for idx := range seen {
		assert.False(t, unique[idx], "index %d handed out twice", idx)
		unique[idx] = true
	}
	assert.Len(t, unique, 400)
}
