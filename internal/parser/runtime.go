package parser

import (
	"context"
	"strings"

	"npuprof/internal/model"
	"npuprof/internal/wire"
	"npuprof/pkg/constants"
	"npuprof/pkg/logger"
)

// RuntimeParser decodes runtime task tracks, the host side launch record of
// every device task. A track releases the device tasks parked under its key.
type RuntimeParser struct {
	base
}

// NewRuntimeParser creates a runtime track parser.
func NewRuntimeParser(opts Options) (*RuntimeParser, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	p := &RuntimeParser{}
	p.init("runtime", opts)
	return p, nil
}

// Recognizes implements Parser.
func (p *RuntimeParser) Recognizes(marker string) bool {
	return strings.Contains(marker, constants.StreamTaskTrack)
}

// Reset implements Parser.
func (p *RuntimeParser) Reset() {
	p.resetBuffers()
}

// Parse implements Parser.
func (p *RuntimeParser) Parse(ctx context.Context, chunk *model.Chunk) error {
	aged, ok := generation(chunk.Marker(), p.store.OpTypeFlag())
	if !ok {
		p.count("streams_ignored")
		logger.DebugCtx(ctx, "runtime parser ignored stream %s, size: %d", chunk.StreamName, chunk.Size())
		return nil
	}
	return p.eachRecord(ctx, chunk, wire.CompactInfoSize, func(rec []byte) error {
		return p.track(ctx, rec, aged)
	})
}

func (p *RuntimeParser) track(ctx context.Context, rec []byte, aged bool) error {
	t, err := wire.DecodeRuntimeTrack(rec)
	if err != nil {
		return err
	}
	if t.Level != wire.LevelRuntime {
		return errSkip
	}
	key := model.DeviceKey{TaskID: t.TaskID, StreamID: uint32(t.StreamID), ContextID: model.NoContext}
	if p.platform == constants.PlatformDavid {
		key.StreamID = 0
	}
	released := p.store.SubmitRuntimeTrack(ctx, model.RuntimeTrack{
		Key:       key,
		ThreadID:  t.ThreadID,
		Timestamp: t.Timestamp,
		DeviceID:  uint32(t.DeviceID),
		Aged:      aged,
	})
	p.count("tracks")
	if released > 0 {
		p.count("joins")
	}
	return nil
}
