package reassembly

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_FeedWithoutTailReturnsChunk(t *testing.T) {
	buf := New(0)
	view, err := buf.Feed([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, view)
	assert.Equal(t, 0, buf.Len())
}

func TestBuffer_KeepTailCarriesRemainder(t *testing.T) {
	buf := New(0)

	view, err := buf.Feed([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	buf.KeepTail(view, 4)
	assert.Equal(t, 1, buf.Len())

	view, err = buf.Feed([]byte{6, 7})
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 7}, view)
	assert.Equal(t, 0, buf.Len(), "feed hands the tail over to the view")
}

func TestBuffer_KeepTailFullyConsumedClears(t *testing.T) {
	buf := New(0)
	view, _ := buf.Feed([]byte{1, 2})
	buf.KeepTail(view, 1)
	require.Equal(t, 1, buf.Len())

	view, _ = buf.Feed([]byte{3})
	buf.KeepTail(view, len(view))
	assert.Equal(t, 0, buf.Len())

	buf.KeepTail(view, len(view)+10)
	assert.Equal(t, 0, buf.Len())
}

func TestBuffer_TailIsCopied(t *testing.T) {
	buf := New(0)
	chunk := []byte{1, 2, 3}
	view, _ := buf.Feed(chunk)
	buf.KeepTail(view, 1)

	chunk[1] = 99
	view, _ = buf.Feed(nil)
	assert.Equal(t, []byte{2, 3}, view)
}

func TestBuffer_Overflow(t *testing.T) {
	buf := New(4)
	view, _ := buf.Feed([]byte{1, 2, 3})
	buf.KeepTail(view, 0)

	_, err := buf.Feed([]byte{4, 5})
	require.ErrorIs(t, err, ErrBufferOverflow)
	assert.Equal(t, 0, buf.Len(), "overflow drops the stale tail")
}

func TestBuffer_Reset(t *testing.T) {
	buf := New(0)
	view, _ := buf.Feed([]byte{1, 2, 3})
	buf.KeepTail(view, 1)
	buf.Reset()
	assert.Equal(t, 0, buf.Len())
}

// decodeAll runs the parse loop used by every source parser over 8-byte records.
func decodeAll(buf *Buffer, chunks [][]byte) []uint64 {
	var out []uint64
	for _, chunk := range chunks {
		view, err := buf.Feed(chunk)
		if err != nil {
			continue
		}
		offset := 0
		for len(view)-offset >= 8 {
			out = append(out, binary.LittleEndian.Uint64(view[offset:]))
			offset += 8
		}
		buf.KeepTail(view, offset)
	}
	return out
}
