// Package parser decodes the profiling source streams into correlation store
// updates. Each parser owns the reassembly buffers of the streams it handles.
package parser

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"npuprof/internal/correlation"
	"npuprof/internal/model"
	"npuprof/pkg/clock"
	"npuprof/pkg/constants"
	"npuprof/pkg/logger"
	"npuprof/pkg/reassembly"
)

// Parser decodes the chunks of one profiling source.
type Parser interface {
	Name() string
	// Recognizes reports whether a chunk marker belongs to this source.
	Recognizes(marker string) bool
	Parse(ctx context.Context, chunk *model.Chunk) error
	Stats() Stats
	SetDeviceID(deviceID uint32)
	// Reset drops buffered tails and in-flight records. Counters are kept.
	Reset()
}

// Stats are the cumulative counters of a parser.
type Stats struct {
	Name          string            `json:"name"`
	TotalBytes    uint64            `json:"total_bytes"`
	AnalyzedBytes uint64            `json:"analyzed_bytes"`
	Records       uint64            `json:"records"`
	Dropped       uint64            `json:"dropped"`
	Buffered      int               `json:"buffered"`
	Counters      map[string]uint64 `json:"counters,omitempty"`
}

// Options are shared by every parser.
type Options struct {
	Store         *correlation.Store
	Clock         *clock.Normalizer
	Platform      string
	MaxBufferSize int
}

func (o Options) validate() error {
	if o.Store == nil {
		return errors.New("parser: store is required")
	}
	if o.Clock == nil {
		return errors.New("parser: clock is required")
	}
	return nil
}

// errSkip marks a well-formed record that the source does not handle.
var errSkip = errors.New("record skipped")

type base struct {
	name     string
	store    *correlation.Store
	clock    *clock.Normalizer
	platform string
	maxBuf   int
	deviceID atomic.Uint32

	bufMu   sync.Mutex
	buffers map[string]*reassembly.Buffer

	totalBytes    atomic.Uint64
	analyzedBytes atomic.Uint64
	records       atomic.Uint64
	dropped       atomic.Uint64

	countMu  sync.Mutex
	counters map[string]uint64
}

func (b *base) init(name string, opts Options) {
	b.name = name
	b.store = opts.Store
	b.clock = opts.Clock
	b.platform = opts.Platform
	b.maxBuf = opts.MaxBufferSize
	b.buffers = make(map[string]*reassembly.Buffer)
	b.counters = make(map[string]uint64)
}

func (b *base) Name() string {
	return b.name
}

func (b *base) SetDeviceID(deviceID uint32) {
	b.deviceID.Store(deviceID)
}

func (b *base) buffer(marker string) *reassembly.Buffer {
	b.bufMu.Lock()
	defer b.bufMu.Unlock()
	buf, ok := b.buffers[marker]
	if !ok {
		buf = reassembly.New(b.maxBuf)
		b.buffers[marker] = buf
	}
	return buf
}

func (b *base) resetBuffers() {
	b.bufMu.Lock()
	for _, buf := range b.buffers {
		buf.Reset()
	}
	b.bufMu.Unlock()
}

func (b *base) count(name string) {
	b.countMu.Lock()
	b.counters[name]++
	b.countMu.Unlock()
}

func (b *base) Stats() Stats {
	st := Stats{
		Name:          b.name,
		TotalBytes:    b.totalBytes.Load(),
		AnalyzedBytes: b.analyzedBytes.Load(),
		Records:       b.records.Load(),
		Dropped:       b.dropped.Load(),
	}
	b.bufMu.Lock()
	for _, buf := range b.buffers {
		st.Buffered += buf.Len()
	}
	b.bufMu.Unlock()

	b.countMu.Lock()
	st.Counters = maps.Clone(b.counters)
	b.countMu.Unlock()
	return st
}

// handle accounts one decoded record. Skipped records are counted, malformed
// ones dropped with a diagnostic.
func (b *base) handle(ctx context.Context, err error) {
	switch {
	case err == nil:
		b.records.Add(1)
	case errors.Is(err, errSkip):
		b.count("skipped")
	default:
		b.dropped.Add(1)
		logger.WarnCtx(ctx, "%s dropped record: %v", b.name, err)
	}
}

// feed returns the reassembled view of a chunk. An overflowing chunk is
// dropped together with the buffered tail.
func (b *base) feed(chunk *model.Chunk) (*reassembly.Buffer, []byte, error) {
	b.totalBytes.Add(uint64(chunk.Size()))
	buf := b.buffer(chunk.Marker())
	view, err := buf.Feed(chunk.Data)
	if err != nil {
		b.dropped.Add(1)
		return nil, nil, fmt.Errorf("%s: stream %s: %w", b.name, chunk.StreamName, err)
	}
	return buf, view, nil
}

// eachRecord runs fn over every whole fixed-size record of the chunk and keeps
// the partial tail for the next chunk of the stream.
func (b *base) eachRecord(ctx context.Context, chunk *model.Chunk, size int, fn func(rec []byte) error) error {
	buf, view, err := b.feed(chunk)
	if err != nil {
		return err
	}
	off := 0
	for len(view)-off >= size {
		if ctx.Err() != nil {
			break
		}
		b.handle(ctx, fn(view[off:off+size]))
		off += size
	}
	b.analyzedBytes.Add(uint64(off))
	buf.KeepTail(view, off)
	return nil
}

// generation classifies a host stream. Aging streams are read only with the op
// type flag on; streams naming neither generation are ignored.
func generation(marker string, opTypeFlag bool) (aged bool, ok bool) {
	switch {
	case strings.Contains(marker, constants.GenerationUnaging):
		return false, true
	case strings.Contains(marker, constants.GenerationAging):
		return true, opTypeFlag
	default:
		return false, false
	}
}
