package parser

import (
	"context"
	"fmt"
	"strings"

	"npuprof/internal/correlation"
	"npuprof/internal/model"
	"npuprof/internal/opdesc"
	"npuprof/internal/wire"
	"npuprof/pkg/constants"
)

// FastTaskParser decodes the fast task scheduler log: task queue records and
// sub-task context records. The extended PMU variant uses larger records keyed
// by task id alone.
type FastTaskParser struct {
	base
	tasks  inflight
	size   int
	byTask bool
}

// NewFastTaskParser creates a fast task scheduler parser for the platform.
func NewFastTaskParser(opts Options) (*FastTaskParser, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	p := &FastTaskParser{size: wire.StarsLogSize}
	p.init("stars", opts)
	p.tasks.reset()
	if opts.Platform == constants.PlatformDavid {
		p.size = wire.DavidLogSize
		p.byTask = true
	}
	return p, nil
}

// Recognizes implements Parser.
func (p *FastTaskParser) Recognizes(marker string) bool {
	return strings.Contains(marker, constants.StreamStars)
}

// Reset implements Parser.
func (p *FastTaskParser) Reset() {
	p.resetBuffers()
	p.tasks.reset()
}

// Stats implements Parser.
func (p *FastTaskParser) Stats() Stats {
	st := p.base.Stats()
	st.Counters["inflight"] = uint64(p.tasks.len())
	return st
}

// Parse implements Parser.
func (p *FastTaskParser) Parse(ctx context.Context, chunk *model.Chunk) error {
	return p.eachRecord(ctx, chunk, p.size, func(rec []byte) error {
		return p.log(ctx, rec)
	})
}

func (p *FastTaskParser) key(l wire.StarsLog) model.DeviceKey {
	var key model.DeviceKey
	if p.byTask {
		key.TaskID = uint32(l.TaskID)
	} else {
		key.TaskID, key.StreamID = RollBack(l.TaskID, l.StreamID)
	}
	key.ContextID = model.NoContext
	if l.IsSubtask() {
		key.ContextID = uint32(l.ContextID)
	}
	return key
}

func (p *FastTaskParser) log(ctx context.Context, rec []byte) error {
	l, err := wire.DecodeStarsLog(rec, p.size)
	if err != nil {
		return err
	}
	key := p.key(l)
	ts := p.clock.ToNs(l.SysCnt)

	switch {
	case l.IsStart():
		if p.tasks.start(key, ts) {
			p.count("restarts")
		}
		return nil
	case l.IsEnd():
		start, ok := p.tasks.end(key)
		if !ok {
			return fmt.Errorf("%w: stars task %s ends without a start", correlation.ErrOrdering, key)
		}
		_, err := p.store.SubmitDeviceTask(ctx, model.DeviceTask{
			Key:         key,
			Start:       start,
			End:         ts,
			StartAicore: start,
			EndAicore:   ts,
			DeviceID:    p.deviceID.Load(),
			Flag:        opdesc.FlagSubscribeOp,
		})
		if err != nil {
			return err
		}
		if l.IsSubtask() {
			p.count("subtasks")
		} else {
			p.count("tasks")
		}
		return nil
	default:
		return errSkip
	}
}
