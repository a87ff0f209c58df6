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
	"npuprof/pkg/logger"
)

type timeline struct {
	op      model.OpTime
	started bool
}

// TaskSchedulerParser decodes the task scheduler track: self-describing
// reports carrying task timelines, step keypoints and task id flips.
type TaskSchedulerParser struct {
	base

	mu        sync.Mutex
	timelines map[model.DeviceKey]*timeline
}

// NewTaskSchedulerParser creates a task scheduler parser.
func NewTaskSchedulerParser(opts Options) (*TaskSchedulerParser, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	p := &TaskSchedulerParser{timelines: make(map[model.DeviceKey]*timeline)}
	p.init("ts", opts)
	return p, nil
}

// Recognizes implements Parser.
func (p *TaskSchedulerParser) Recognizes(marker string) bool {
	return strings.Contains(marker, constants.StreamTsTrack)
}

// Reset implements Parser.
func (p *TaskSchedulerParser) Reset() {
	p.resetBuffers()
	p.mu.Lock()
	p.timelines = make(map[model.DeviceKey]*timeline)
	p.mu.Unlock()
}

// Stats implements Parser.
func (p *TaskSchedulerParser) Stats() Stats {
	st := p.base.Stats()
	p.mu.Lock()
	st.Counters["inflight"] = uint64(len(p.timelines))
	p.mu.Unlock()
	return st
}

// Parse implements Parser. Each report declares its own size; a report
// declaring less than its header cannot be skipped and drops the rest of the
// chunk.
func (p *TaskSchedulerParser) Parse(ctx context.Context, chunk *model.Chunk) error {
	buf, view, err := p.feed(chunk)
	if err != nil {
		return err
	}
	off := 0
	for len(view)-off >= wire.TsHeaderSize && ctx.Err() == nil {
		h, err := wire.DecodeTsHeader(view[off:])
		if err != nil {
			p.dropped.Add(1)
			logger.WarnCtx(ctx, "ts parser dropped %d bytes of %s: %v", len(view)-off, chunk.StreamName, err)
			off = len(view)
			break
		}
		size := int(h.BufSize)
		if len(view)-off < size {
			break
		}
		p.handle(ctx, p.report(ctx, h, view[off:off+size]))
		off += size
	}
	p.analyzedBytes.Add(uint64(off))
	buf.KeepTail(view, off)
	return nil
}

func (p *TaskSchedulerParser) report(ctx context.Context, h wire.TsHeader, rec []byte) error {
	switch h.RptType {
	case wire.TsReportTimeline:
		r, err := wire.DecodeTsTimeline(rec)
		if err != nil {
			return err
		}
		return p.timeline(ctx, r)
	case wire.TsReportKeypoint:
		r, err := wire.DecodeTsKeypoint(rec)
		if err != nil {
			return err
		}
		return p.keypoint(r)
	case wire.TsReportTaskFlip:
		r, err := wire.DecodeTsTaskFlip(rec)
		if err != nil {
			return err
		}
		if p.store.FlipStream(uint32(r.StreamID), uint32(r.FlipNum), uint32(r.TaskID)) {
			p.count("flips")
		} else {
			p.count("flips_unknown_stream")
		}
		return nil
	default:
		return errSkip
	}
}

// timeline assembles the four task states. The end state finalizes the op
// time into the step table and submits it to the device join.
func (p *TaskSchedulerParser) timeline(ctx context.Context, r wire.TsTimelineReport) error {
	key := model.DeviceKey{TaskID: uint32(r.TaskID), StreamID: uint32(r.StreamID), ContextID: model.NoContext}
	ts := p.clock.ToNs(r.Timestamp)

	p.mu.Lock()
	tl, ok := p.timelines[key]
	if !ok {
		if r.TaskState == wire.TaskStateEnd {
			p.mu.Unlock()
			return fmt.Errorf("%w: ts task %s ends without a start", correlation.ErrOrdering, key)
		}
		tl = &timeline{op: model.OpTime{
			Key:      key,
			ThreadID: r.ThreadID,
			Flag:     opdesc.FlagSubscribeOp,
			DeviceID: p.deviceID.Load(),
		}}
		p.timelines[key] = tl
	}
	switch r.TaskState {
	case wire.TaskStateStart:
		tl.op.Start = ts
		tl.started = true
	case wire.TaskStateAicoreStart:
		tl.op.StartAicore = ts
	case wire.TaskStateAicoreEnd:
		tl.op.EndAicore = ts
	case wire.TaskStateEnd:
		delete(p.timelines, key)
		p.mu.Unlock()
		return p.finalize(ctx, tl, ts)
	}
	p.mu.Unlock()
	return nil
}

func (p *TaskSchedulerParser) finalize(ctx context.Context, tl *timeline, end uint64) error {
	op := tl.op
	if !tl.started {
		return fmt.Errorf("%w: ts task %s ends without a start", correlation.ErrOrdering, op.Key)
	}
	op.End = end
	if op.Start >= op.End {
		return fmt.Errorf("%w: ts task %s start %d end %d", correlation.ErrOrdering, op.Key, op.Start, op.End)
	}
	if (op.StartAicore == 0) != (op.EndAicore == 0) {
		op.StartAicore, op.EndAicore = 0, 0
	}
	p.store.Steps().AddOpTime(op)
	p.count("op_times")

	_, err := p.store.SubmitDeviceTask(ctx, model.DeviceTask{
		Key:         op.Key,
		Start:       op.Start,
		End:         op.End,
		StartAicore: op.StartAicore,
		EndAicore:   op.EndAicore,
		DeviceID:    op.DeviceID,
		Flag:        op.Flag,
	})
	return err
}

func (p *TaskSchedulerParser) keypoint(r wire.TsKeypointReport) error {
	ts := p.clock.ToNs(r.Timestamp)
	if r.TagID == wire.KeypointStart {
		err := p.store.Steps().StartKeypoint(model.Keypoint{
			StreamID: uint32(r.StreamID),
			TaskID:   uint32(r.TaskID),
			IndexID:  r.IndexID,
			ModelID:  r.ModelID,
			Start:    ts,
		})
		if err != nil {
			return err
		}
		p.count("keypoint_starts")
		return nil
	}
	if err := p.store.Steps().EndKeypoint(model.KeypointKey{ModelID: r.ModelID, IndexID: r.IndexID}, ts); err != nil {
		return err
	}
	p.count("keypoint_ends")
	return nil
}
