// Package analyzer routes profiling chunks to the source parsers, drives the
// execution mode and forwards finished operator descriptors to the uploader.
package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"npuprof/internal/correlation"
	"npuprof/internal/model"
	"npuprof/internal/opdesc"
	"npuprof/internal/opregistry"
	"npuprof/internal/parser"
	"npuprof/pkg/clock"
	"npuprof/pkg/config"
	"npuprof/pkg/constants"
	"npuprof/pkg/interfaces"
	"npuprof/pkg/logger"
	"npuprof/pkg/reassembly"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotInitialized is returned for every chunk offered to an analyzer whose
// construction failed.
var ErrNotInitialized = errors.New("analyzer is not initialized")

// Options configures an analyzer session.
type Options struct {
	FrequencyMHz    string
	Platform        string
	GraphTypeFilter bool
	OpTypeFilter    bool
	Mode            Mode
	MaxBufferSize   int
	DeviceID        uint32
}

// OptionsFromConfig converts the analyzer section of the configuration.
func OptionsFromConfig(cfg config.AnalyzerConfig) (Options, error) {
	mode, err := ParseMode(cfg.ProfileMode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		FrequencyMHz:    cfg.FrequencyMHz(),
		Platform:        cfg.Platform(),
		GraphTypeFilter: cfg.GraphTypeFilter,
		OpTypeFilter:    cfg.OpTypeFilter,
		Mode:            mode,
		MaxBufferSize:   cfg.MaxBufferSize,
		DeviceID:        cfg.DeviceID,
	}, nil
}

// Deps are the collaborators of an analyzer. All of them are optional: a nil
// uploader drops descriptors, a nil lookup resolves every hash to "".
type Deps struct {
	Uploader  interfaces.Uploader
	Lookup    interfaces.HashLookup
	Registrar interfaces.HashRegistrar
	Registry  *opregistry.Registry
}

// Analyzer is one profiling session.
type Analyzer struct {
	sessionID string
	inited    bool

	store     *correlation.Store
	parsers   []parser.Parser
	uploader  interfaces.Uploader
	registrar interfaces.HashRegistrar
	maxBuf    int

	hashMu   sync.Mutex
	hashBufs map[string]*reassembly.Buffer // by chunk marker

	mode            atomic.Int32
	graphTypeFilter atomic.Bool
	deviceID        atomic.Uint32

	resultCount  atomic.Uint64
	unrouted     atomic.Uint64
	uploadErrors atomic.Uint64
	describeErrs atomic.Uint64
	hashEntries  atomic.Uint64
	resets       atomic.Uint64
}

// New creates an analyzer. When a parser cannot be built the returned
// analyzer is not nil but refuses every chunk with ErrNotInitialized.
func New(opts Options, deps Deps) (*Analyzer, error) {
	a := &Analyzer{
		sessionID: uuid.NewString(),
		uploader:  deps.Uploader,
		registrar: deps.Registrar,
		maxBuf:    opts.MaxBufferSize,
		hashBufs:  make(map[string]*reassembly.Buffer),
	}
	a.mode.Store(int32(opts.Mode))
	a.graphTypeFilter.Store(opts.GraphTypeFilter)
	a.deviceID.Store(opts.DeviceID)

	a.store = correlation.New(correlation.Options{
		Platform: opts.Platform,
		Registry: deps.Registry,
		Lookup:   deps.Lookup,
	})
	a.store.SetOpTypeFlag(opts.OpTypeFilter)

	clk, err := clock.New(opts.FrequencyMHz)
	if err != nil {
		return a, fmt.Errorf("failed to init analyzer: %w", err)
	}
	popts := parser.Options{
		Store:         a.store,
		Clock:         clk,
		Platform:      opts.Platform,
		MaxBufferSize: opts.MaxBufferSize,
	}
	// routing order
	ctors := []func(parser.Options) (parser.Parser, error){
		func(o parser.Options) (parser.Parser, error) { return parser.NewGraphParser(o) },
		func(o parser.Options) (parser.Parser, error) { return parser.NewRuntimeParser(o) },
		func(o parser.Options) (parser.Parser, error) { return parser.NewHwSchedulerParser(o) },
		func(o parser.Options) (parser.Parser, error) { return parser.NewFastTaskParser(o) },
		func(o parser.Options) (parser.Parser, error) { return parser.NewTaskSchedulerParser(o) },
	}
	for _, ctor := range ctors {
		p, err := ctor(popts)
		if err != nil {
			return a, fmt.Errorf("failed to init analyzer: %w", err)
		}
		p.SetDeviceID(opts.DeviceID)
		a.parsers = append(a.parsers, p)
	}

	a.inited = true
	logger.Info("analyzer initialized",
		zap.String("session_id", a.sessionID),
		zap.String("platform", opts.Platform),
		zap.Float64("clock_ghz", clk.GHz()),
		zap.String("mode", opts.Mode.String()),
		zap.Bool("graph_type_filter", opts.GraphTypeFilter),
		zap.Bool("op_type_filter", opts.OpTypeFilter))
	return a, nil
}

// SessionID returns the id printed as trace id in every log line of the session.
func (a *Analyzer) SessionID() string {
	return a.sessionID
}

// sessionCtx tags ctx with the session id and, unless the caller traces
// its own request, uses it as trace id.
func (a *Analyzer) sessionCtx(ctx context.Context) context.Context {
	ctx = model.WithSessionID(ctx, a.sessionID)
	if !logger.HasTraceID(ctx) {
		ctx = logger.WithTraceID(ctx, a.sessionID)
	}
	return ctx
}

// Initialized reports whether the analyzer accepts chunks.
func (a *Analyzer) Initialized() bool {
	return a.inited
}

// Store returns the correlation store of the session.
func (a *Analyzer) Store() *correlation.Store {
	return a.store
}

// Process handles one chunk. Per-record problems are logged and counted; the
// returned error reports a chunk that could not be used at all.
func (a *Analyzer) Process(ctx context.Context, chunk *model.Chunk) error {
	if !a.inited {
		return ErrNotInitialized
	}
	ctx = a.sessionCtx(ctx)
	if chunk == nil || chunk.StreamName == "" {
		logger.WarnCtx(ctx, "analyzer received a chunk without a stream name")
		return nil
	}
	if chunk.Control {
		if chunk.StreamName == constants.ControlEndInfo {
			a.Reset(ctx)
		}
		return nil
	}

	marker := chunk.Marker()
	if strings.Contains(marker, constants.StreamHashDict) {
		return a.hashDict(ctx, chunk)
	}

	p := a.route(marker)
	if p == nil {
		a.unrouted.Add(1)
		logger.DebugCtx(ctx, "analyzer drop data, stream: %s", chunk.StreamName)
		return nil
	}

	err := p.Parse(ctx, chunk)
	if err != nil {
		logger.WarnCtx(ctx, "%s abandoned chunk of %s: %v", p.Name(), chunk.StreamName, err)
	}
	if needsPostProcess(marker) {
		a.postProcess(ctx)
	}
	a.drain(ctx)
	return err
}

func (a *Analyzer) route(marker string) parser.Parser {
	for _, p := range a.parsers {
		if p.Recognizes(marker) {
			return p
		}
	}
	return nil
}

var postProcessMarkers = []string{
	constants.StreamGraphIDMap,
	constants.StreamIDMapInfo,
	constants.StreamTaskDescInfo,
	constants.StreamTsTrack,
}

func needsPostProcess(marker string) bool {
	for _, m := range postProcessMarkers {
		if strings.Contains(marker, m) {
			return true
		}
	}
	return false
}

// drain uploads the descriptors built by the joins. Model ids are remapped to
// graph ids first; with the graph type filter on, descriptors whose model has
// no graph id yet are held back for a later drain.
func (a *Analyzer) drain(ctx context.Context) int {
	descs := a.store.TakeDescriptors()
	if len(descs) == 0 {
		return 0
	}
	if a.uploader == nil {
		return 0
	}

	var held []opdesc.ProfOpDesc
	sent := 0
	for i, d := range descs {
		graphID := a.store.GraphID(d.ModelID)
		if a.graphTypeFilter.Load() && graphID == d.ModelID {
			held = append(held, d)
			continue
		}
		out := d
		out.ModelID = graphID
		out.Sign()
		if err := a.upload(ctx, out); err != nil {
			held = append(held, descs[i:]...)
			break
		}
		sent++
	}
	a.store.RequeueDescriptors(held)
	return sent
}

func (a *Analyzer) upload(ctx context.Context, d opdesc.ProfOpDesc) error {
	if a.uploader == nil {
		return nil
	}
	if err := a.uploader.Upload(ctx, d.Encode()); err != nil {
		a.uploadErrors.Add(1)
		logger.ErrorCtx(ctx, "failed to upload descriptor of model %d: %v", d.ModelID, err)
		return err
	}
	a.resultCount.Add(1)
	logger.DebugCtx(ctx, "uploaded descriptor model: %d, thread: %d, op index: %d, start: %d, end: %d, flag: %d",
		d.ModelID, d.ThreadID, d.OpIndex, d.Start, d.End, d.Flag)
	return nil
}

func (a *Analyzer) hashBuffer(marker string) *reassembly.Buffer {
	a.hashMu.Lock()
	defer a.hashMu.Unlock()
	buf, ok := a.hashBufs[marker]
	if !ok {
		buf = reassembly.New(a.maxBuf)
		a.hashBufs[marker] = buf
	}
	return buf
}

// hashDict registers "hashId:value" lines. A line split across chunks is kept
// for the next chunk of the same stream.
func (a *Analyzer) hashDict(ctx context.Context, chunk *model.Chunk) error {
	buf := a.hashBuffer(chunk.Marker())
	view, err := buf.Feed(chunk.Data)
	if err != nil {
		return fmt.Errorf("hash dictionary: %w", err)
	}
	end := bytes.LastIndexByte(view, '\n')
	if end < 0 {
		buf.KeepTail(view, 0)
		return nil
	}
	for _, line := range strings.Split(string(view[:end]), "\n") {
		if err := a.registerHash(ctx, strings.TrimSpace(line)); err != nil {
			logger.WarnCtx(ctx, "hash dictionary: %v", err)
		}
	}
	buf.KeepTail(view, end+1)
	return nil
}

func (a *Analyzer) registerHash(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	id, value, ok := strings.Cut(line, ":")
	if !ok {
		return fmt.Errorf("malformed line %q", line)
	}
	hashID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return fmt.Errorf("malformed hash id %q: %w", id, err)
	}
	a.hashEntries.Add(1)
	if a.registrar == nil {
		return nil
	}
	return a.registrar.Register(ctx, hashID, value)
}

// Reset clears every table of the session and every buffered tail. Mode,
// filters and counters survive.
func (a *Analyzer) Reset(ctx context.Context) {
	a.store.Reset()
	for _, p := range a.parsers {
		p.Reset()
	}
	a.hashMu.Lock()
	for _, buf := range a.hashBufs {
		buf.Reset()
	}
	a.hashMu.Unlock()
	a.resets.Add(1)
	logger.InfoCtx(ctx, "analyzer cleared all data")
}

// Flush forwards to an uploader that buffers.
func (a *Analyzer) Flush(ctx context.Context) error {
	if f, ok := a.uploader.(interfaces.Flusher); ok {
		return f.Flush(a.sessionCtx(ctx))
	}
	return nil
}

// SetGraphTypeFilter makes the analyzer emit only descriptors whose model id
// maps to a graph id.
func (a *Analyzer) SetGraphTypeFilter(on bool) {
	a.graphTypeFilter.Store(on)
	logger.Info("analyzer set graph type filter", zap.Bool("on", on))
}

// SetOpTypeFilter toggles acceptance of aging host streams.
func (a *Analyzer) SetOpTypeFilter(on bool) {
	a.store.SetOpTypeFlag(on)
	logger.Info("analyzer set op type filter", zap.Bool("on", on))
}

// SetMode forces the execution mode.
func (a *Analyzer) SetMode(m Mode) {
	a.mode.Store(int32(m))
	logger.Info("analyzer set profile mode", zap.String("mode", m.String()))
}

// Mode returns the current execution mode.
func (a *Analyzer) Mode() Mode {
	return Mode(a.mode.Load())
}

// SetDeviceID records the device the session profiles.
func (a *Analyzer) SetDeviceID(id uint32) {
	a.deviceID.Store(id)
	for _, p := range a.parsers {
		p.SetDeviceID(id)
	}
}

// ResultCount returns the number of uploaded descriptors.
func (a *Analyzer) ResultCount() uint64 {
	return a.resultCount.Load()
}

// Stats is a snapshot of the session.
type Stats struct {
	SessionID    string               `json:"session_id"`
	Initialized  bool                 `json:"initialized"`
	Mode         string               `json:"mode"`
	ResultCount  uint64               `json:"result_count"`
	Unrouted     uint64               `json:"unrouted"`
	UploadErrors uint64               `json:"upload_errors"`
	DescribeErrs uint64               `json:"describe_errors"`
	HashEntries  uint64               `json:"hash_entries"`
	Resets       uint64               `json:"resets"`
	Registry     int                  `json:"registry"`
	Parsers      []parser.Stats       `json:"parsers"`
	Tables       correlation.Sizes    `json:"tables"`
	Joins        correlation.Counters `json:"joins"`
}

// Stats returns a snapshot of the session.
func (a *Analyzer) Stats() Stats {
	st := Stats{
		SessionID:    a.sessionID,
		Initialized:  a.inited,
		Mode:         a.Mode().String(),
		ResultCount:  a.resultCount.Load(),
		Unrouted:     a.unrouted.Load(),
		UploadErrors: a.uploadErrors.Load(),
		DescribeErrs: a.describeErrs.Load(),
		HashEntries:  a.hashEntries.Load(),
		Resets:       a.resets.Load(),
		Registry:     a.store.Registry().Len(),
		Tables:       a.store.Sizes(),
		Joins:        a.store.Counters(),
	}
	for _, p := range a.parsers {
		st.Parsers = append(st.Parsers, p.Stats())
	}
	return st
}

// LogStats prints the per-parser byte counts and the upload count.
func (a *Analyzer) LogStats(ctx context.Context) {
	ctx = a.sessionCtx(ctx)
	logger.InfoCtx(ctx, "total_size_analyze, upload time: %d", a.resultCount.Load())
	for _, p := range a.parsers {
		s := p.Stats()
		logger.InfoCtx(ctx, "total_size_analyze, module: %s, total: %d, analyzed: %d, records: %d, dropped: %d",
			s.Name, s.TotalBytes, s.AnalyzedBytes, s.Records, s.Dropped)
	}
}
