package parser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"npuprof/internal/correlation"
	"npuprof/internal/model"
	"npuprof/internal/opdesc"
	"npuprof/internal/wire"
	"npuprof/pkg/constants"
)

// inflight pairs start and end markers of device tasks by key.
type inflight struct {
	mu     sync.Mutex
	starts map[model.DeviceKey]uint64
}

// start records a start time and reports whether an earlier start was replaced.
func (f *inflight) start(key model.DeviceKey, ts uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, replaced := f.starts[key]
	f.starts[key] = ts
	return replaced
}

func (f *inflight) end(key model.DeviceKey) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.starts[key]
	if ok {
		delete(f.starts, key)
	}
	return ts, ok
}

func (f *inflight) reset() {
	f.mu.Lock()
	f.starts = make(map[model.DeviceKey]uint64)
	f.mu.Unlock()
}

func (f *inflight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

// HwSchedulerParser decodes the hardware task scheduler log: one start and one
// end record per device task.
type HwSchedulerParser struct {
	base
	tasks inflight
}

// NewHwSchedulerParser creates a hardware task scheduler parser.
func NewHwSchedulerParser(opts Options) (*HwSchedulerParser, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	p := &HwSchedulerParser{}
	p.init("hwts", opts)
	p.tasks.reset()
	return p, nil
}

// Recognizes implements Parser.
func (p *HwSchedulerParser) Recognizes(marker string) bool {
	return strings.Contains(marker, constants.StreamHwts)
}

// Reset implements Parser.
func (p *HwSchedulerParser) Reset() {
	p.resetBuffers()
	p.tasks.reset()
}

// Stats implements Parser.
func (p *HwSchedulerParser) Stats() Stats {
	st := p.base.Stats()
	st.Counters["inflight"] = uint64(p.tasks.len())
	return st
}

// Parse implements Parser.
func (p *HwSchedulerParser) Parse(ctx context.Context, chunk *model.Chunk) error {
	return p.eachRecord(ctx, chunk, wire.HwtsLogSize, func(rec []byte) error {
		return p.log(ctx, rec)
	})
}

func (p *HwSchedulerParser) log(ctx context.Context, rec []byte) error {
	l, err := wire.DecodeHwtsLog(rec)
	if err != nil {
		return err
	}
	key := model.DeviceKey{TaskID: uint32(l.TaskID), StreamID: uint32(l.StreamID), ContextID: model.NoContext}
	ts := p.clock.ToNs(l.SysCnt)

	switch l.Type {
	case wire.HwtsStart:
		if p.tasks.start(key, ts) {
			p.count("restarts")
		}
		return nil
	case wire.HwtsEnd:
		start, ok := p.tasks.end(key)
		if !ok {
			return fmt.Errorf("%w: hwts task %s ends without a start", correlation.ErrOrdering, key)
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
		p.count("tasks")
		return nil
	default:
		return errSkip
	}
}
