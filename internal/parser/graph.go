package parser

import (
	"context"
	"fmt"
	"math"
	"strings"

	"npuprof/internal/correlation"
	"npuprof/internal/model"
	"npuprof/internal/wire"
	"npuprof/pkg/constants"
	"npuprof/pkg/logger"
)

// GraphParser decodes the host graph framework streams: API spans and model
// events, node basic info, context ids, graph id maps and task descriptors.
type GraphParser struct {
	base
}

// NewGraphParser creates a graph framework parser.
func NewGraphParser(opts Options) (*GraphParser, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	p := &GraphParser{}
	p.init("graph", opts)
	return p, nil
}

var graphMarkers = []string{
	constants.StreamAPIEvent,
	constants.StreamNodeBasicInfo,
	constants.StreamContextIDInfo,
	constants.StreamGraphIDMap,
	constants.StreamIDMapInfo,
	constants.StreamTaskDescInfo,
}

// Recognizes implements Parser.
func (p *GraphParser) Recognizes(marker string) bool {
	for _, m := range graphMarkers {
		if strings.Contains(marker, m) {
			return true
		}
	}
	return false
}

// Reset implements Parser.
func (p *GraphParser) Reset() {
	p.resetBuffers()
}

// Parse implements Parser. API, node and context chunks end with an attempt to
// resolve API spans.
func (p *GraphParser) Parse(ctx context.Context, chunk *model.Chunk) error {
	marker := chunk.Marker()
	switch {
	case strings.Contains(marker, constants.StreamAPIEvent):
		aged, ok := generation(marker, p.store.OpTypeFlag())
		if !ok {
			p.dropStream(ctx, chunk)
			return nil
		}
		err := p.eachRecord(ctx, chunk, wire.APISize, func(rec []byte) error {
			return p.apiOrEvent(rec, aged)
		})
		p.store.MatchAPIs(ctx)
		return err

	case strings.Contains(marker, constants.StreamNodeBasicInfo):
		aged, ok := generation(marker, p.store.OpTypeFlag())
		if !ok {
			p.dropStream(ctx, chunk)
			return nil
		}
		err := p.eachRecord(ctx, chunk, wire.CompactInfoSize, func(rec []byte) error {
			return p.node(ctx, rec, aged)
		})
		p.store.MatchAPIs(ctx)
		return err

	case strings.Contains(marker, constants.StreamContextIDInfo):
		err := p.eachRecord(ctx, chunk, wire.AdditionalInfoSize, p.contextID)
		p.store.MatchAPIs(ctx)
		return err

	case strings.Contains(marker, constants.StreamGraphIDMap):
		if !strings.Contains(marker, constants.GenerationUnaging) {
			p.dropStream(ctx, chunk)
			return nil
		}
		return p.eachRecord(ctx, chunk, wire.AdditionalInfoSize, p.graphIDMap)

	case strings.Contains(marker, constants.StreamIDMapInfo):
		return p.eachRecord(ctx, chunk, wire.GeIDMapSize, p.idMap)

	case strings.Contains(marker, constants.StreamTaskDescInfo):
		return p.eachRecord(ctx, chunk, wire.GeTaskDescSize, p.taskDesc)
	}
	return fmt.Errorf("graph parser: unexpected stream %s", chunk.StreamName)
}

func (p *GraphParser) dropStream(ctx context.Context, chunk *model.Chunk) {
	p.count("streams_ignored")
	logger.DebugCtx(ctx, "graph parser ignored stream %s, size: %d", chunk.StreamName, chunk.Size())
}

func (p *GraphParser) apiOrEvent(rec []byte, aged bool) error {
	a, err := wire.DecodeAPI(rec)
	if err != nil {
		return err
	}
	switch {
	case !a.IsEvent() && a.Type == wire.TypeNodeLaunch:
		if a.Begin > a.End {
			return fmt.Errorf("%w: api on thread %d begins at %d, ends at %d",
				correlation.ErrOrdering, a.ThreadID, a.Begin, a.End)
		}
		p.store.AddAPI(a.ThreadID, a.Begin, a.End, aged)
		p.count("apis")
	case a.IsEvent() && a.Level == wire.LevelModel && a.Type == wire.TypeModelLoad:
		if err := p.store.AddModelEvent(a.ThreadID, a.ItemID, a.Begin, aged); err != nil {
			return err
		}
		p.count("events")
	default:
		return errSkip
	}
	return nil
}

func (p *GraphParser) node(ctx context.Context, rec []byte, aged bool) error {
	n, err := wire.DecodeNodeBasicInfo(rec)
	if err != nil {
		return err
	}
	if n.Level != wire.LevelNode {
		return errSkip
	}
	if p.store.Resolve(n.OpTypeHash) == constants.FftsPlusOpType {
		if p.store.SetFftsPlus() {
			logger.InfoCtx(ctx, "ffts plus mode on")
		}
		return errSkip
	}
	p.store.AddNode(n.ThreadID, n.Timestamp, n.OpNameHash, n.OpTypeHash, aged)
	p.count("nodes")
	return nil
}

func (p *GraphParser) contextID(rec []byte) error {
	h, err := wire.DecodeAdditionalHeader(rec)
	if err != nil {
		return err
	}
	if h.Level != wire.LevelNode || h.Type != wire.TypeContextIDInfo {
		return errSkip
	}
	info, err := wire.DecodeContextIDInfo(rec)
	if err != nil {
		return err
	}
	p.store.AddContext(info.ThreadID, info.Timestamp, info.OpNameHash, info.CtxIDs[0])
	p.count("contexts")
	return nil
}

func (p *GraphParser) graphIDMap(rec []byte) error {
	info, err := wire.DecodeGraphIDInfo(rec)
	if err != nil {
		return err
	}
	if info.Level != wire.LevelModel || info.GraphID == math.MaxUint32 {
		return errSkip
	}
	p.store.SetGraphID(info.ModelID, info.GraphID)
	p.count("graph_ids")
	return nil
}

func (p *GraphParser) idMap(rec []byte) error {
	m, err := wire.DecodeGeIDMap(rec)
	if err != nil {
		return err
	}
	p.store.SetGraphID(m.ModelID, m.GraphID)
	p.count("graph_ids")
	return nil
}

func (p *GraphParser) taskDesc(rec []byte) error {
	d, err := wire.DecodeGeTaskDesc(rec)
	if err != nil {
		return err
	}
	info := model.TaskInfo{
		Key: model.TaskKey{
			DeviceKey: model.DeviceKey{TaskID: d.TaskID, StreamID: d.StreamID, ContextID: d.ContextID},
			Iteration: d.CurIterNum,
		},
		ModelID: p.store.GraphID(d.ModelID),
		OpName:  p.mixString(d.OpName),
		OpType:  p.mixString(d.OpType),
	}
	p.store.AddTaskInfo(info)
	p.count("task_descs")
	return nil
}

func (p *GraphParser) mixString(m wire.MixData) string {
	if m.IsString() {
		return m.Str
	}
	return p.store.Resolve(m.HashID)
}
