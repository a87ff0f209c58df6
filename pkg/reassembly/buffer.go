// Package reassembly keeps the unconsumed tail of a byte stream between chunk
// deliveries so that records split across chunk boundaries can be decoded.
package reassembly

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// DefaultMaxSize bounds the combined tail+chunk view (64 MiB).
const DefaultMaxSize = 64 << 20

// ErrBufferOverflow is returned when the combined view would exceed the limit.
var ErrBufferOverflow = errors.New("reassembly buffer overflow")

// Buffer holds the bytes left over from the previous chunk of one stream.
//
// A typical parse loop looks like:
//
//	view, err := buf.Feed(chunk)
//	if err != nil { ... }
//	offset := 0
//	for len(view)-offset >= recordSize { ...; offset += recordSize }
//	buf.KeepTail(view, offset)
type Buffer struct {
	mu      sync.Mutex
	tail    []byte
	maxSize int
}

// New creates a buffer limited to maxSize bytes. A non-positive maxSize uses DefaultMaxSize.
func New(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Buffer{maxSize: maxSize}
}

// Feed appends data to the buffered tail and returns one contiguous view.
// On overflow the buffered tail is discarded together with data.
func (b *Buffer) Feed(data []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.tail) == 0 {
		return data, nil
	}

	if len(data) > math.MaxInt-len(b.tail) || len(b.tail)+len(data) > b.maxSize {
		dropped := len(b.tail)
		b.tail = nil
		return nil, fmt.Errorf("%w: buffered %d + chunk %d > %d", ErrBufferOverflow, dropped, len(data), b.maxSize)
	}

	view := make([]byte, 0, len(b.tail)+len(data))
	view = append(view, b.tail...)
	view = append(view, data...)
	b.tail = nil
	return view, nil
}

// KeepTail stores view[consumed:] for the next Feed. A consumed offset at or
// beyond the end of view clears the buffer.
func (b *Buffer) KeepTail(view []byte, consumed int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if consumed < 0 {
		consumed = 0
	}
	if consumed >= len(view) {
		b.tail = nil
		return
	}
	// copy so the caller's chunk memory is not retained
	b.tail = append([]byte(nil), view[consumed:]...)
}

// Len returns the number of buffered tail bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tail)
}

// Reset drops any buffered tail.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.tail = nil
	b.mu.Unlock()
}
