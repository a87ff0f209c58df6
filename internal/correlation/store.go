// Package correlation holds the in-flight records of every profiling source
// and joins them into operator descriptors.
//
// Locks, one per concern:
//
//	trackMu   runtime tracks and parked device tasks
//	graphMu   host spans by thread, graph ops, pending device tasks, task infos, streams
//	descMu    descriptor output buffer
//	graphIDMu model id to graph id table
//
// StepTable carries its own lock and may be held while graphMu or graphIDMu
// is taken, never the reverse. No lock is held while calling the op registry
// or the hash lookup.
package correlation

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"npuprof/internal/model"
	"npuprof/internal/opdesc"
	"npuprof/internal/opregistry"
	"npuprof/pkg/constants"
	"npuprof/pkg/interfaces"
)

// ErrOrdering is returned for records whose timestamps are out of order:
// an end before its start, a repeated start, an end without a start.
var ErrOrdering = errors.New("record ordering violation")

// Options configures a Store.
type Options struct {
	// Platform gates context-aware matching under ffts-plus.
	Platform string
	// Registry interns op names; a private registry is created when nil.
	Registry *opregistry.Registry
	// Lookup resolves name/type hashes; unresolved hashes become empty strings.
	Lookup interfaces.HashLookup
}

// Store is the shared correlation state of one analyzer session.
type Store struct {
	platform string
	registry *opregistry.Registry
	lookup   interfaces.HashLookup

	opTypeFlag atomic.Bool

	trackMu sync.Mutex
	tracks  map[model.DeviceKey]model.RuntimeTrack
	parked  map[model.DeviceKey][]model.DeviceTask // by track key

	graphMu   sync.Mutex
	apis      spanTable
	models    spanTable
	nodes     spanTable
	contexts  spanTable
	graphOps  spanTable
	pending   []model.DeviceTask
	taskInfos map[model.TaskKey]model.TaskInfo
	streams   map[uint32]*model.StreamState
	allStatic bool
	fftsPlus  bool

	descMu sync.Mutex
	descs  []opdesc.ProfOpDesc

	graphIDMu sync.Mutex
	graphIDs  map[uint32]uint32

	steps *StepTable

	counters counters
}

type counters struct {
	merges   atomic.Uint64
	joins    atomic.Uint64
	parked   atomic.Uint64
	released atomic.Uint64
	ordering atomic.Uint64
	failed   atomic.Uint64
}

// New creates an empty store.
func New(opts Options) *Store {
	reg := opts.Registry
	if reg == nil {
		reg = opregistry.New()
	}
	s := &Store{
		platform: opts.Platform,
		registry: reg,
		lookup:   opts.Lookup,
		steps:    NewStepTable(),
	}
	s.resetTables()
	return s
}

func (s *Store) resetTables() {
	s.tracks = make(map[model.DeviceKey]model.RuntimeTrack)
	s.parked = make(map[model.DeviceKey][]model.DeviceTask)
	s.apis.reset()
	s.models.reset()
	s.nodes.reset()
	s.contexts.reset()
	s.graphOps.reset()
	s.pending = nil
	s.taskInfos = make(map[model.TaskKey]model.TaskInfo)
	s.streams = make(map[uint32]*model.StreamState)
	s.allStatic = true
	s.fftsPlus = false
	s.descs = nil
	s.graphIDs = make(map[uint32]uint32)
}

// Reset clears every table. It is the only bulk removal and is safe to repeat.
func (s *Store) Reset() {
	s.steps.Reset()

	s.trackMu.Lock()
	s.graphMu.Lock()
	s.descMu.Lock()
	s.graphIDMu.Lock()
	s.resetTables()
	s.graphIDMu.Unlock()
	s.descMu.Unlock()
	s.graphMu.Unlock()
	s.trackMu.Unlock()
}

// Registry returns the op registry descriptors are interned into.
func (s *Store) Registry() *opregistry.Registry {
	return s.registry
}

// Steps returns the task scheduler step table.
func (s *Store) Steps() *StepTable {
	return s.steps
}

// Platform returns the chip identifier the store was created for.
func (s *Store) Platform() string {
	return s.platform
}

// SetOpTypeFlag toggles relaxed model matching and acceptance of aging streams.
func (s *Store) SetOpTypeFlag(on bool) {
	s.opTypeFlag.Store(on)
}

// OpTypeFlag reports the op type flag.
func (s *Store) OpTypeFlag() bool {
	return s.opTypeFlag.Load()
}

// Resolve turns a hash id into its string, empty when unknown.
func (s *Store) Resolve(hashID uint64) string {
	if s.lookup == nil {
		return ""
	}
	return s.lookup.Resolve(hashID)
}

// SetGraphID records the graph id of a model. The table only grows until Reset.
func (s *Store) SetGraphID(modelID, graphID uint32) {
	s.graphIDMu.Lock()
	s.graphIDs[modelID] = graphID
	s.graphIDMu.Unlock()
}

// GraphID returns the graph id of modelID, or modelID itself when unmapped.
func (s *Store) GraphID(modelID uint32) uint32 {
	s.graphIDMu.Lock()
	defer s.graphIDMu.Unlock()
	if g, ok := s.graphIDs[modelID]; ok {
		return g
	}
	return modelID
}

// Describe interns the op identity and builds a signed descriptor for one
// execution window.
func (s *Store) Describe(opType, opName string, modelID uint32, t model.OpTime) (opdesc.ProfOpDesc, error) {
	if t.Start > t.End || t.StartAicore > t.EndAicore {
		s.counters.ordering.Add(1)
		return opdesc.ProfOpDesc{}, fmt.Errorf("%w: op %q start %d end %d aicore %d..%d",
			ErrOrdering, opName, t.Start, t.End, t.StartAicore, t.EndAicore)
	}
	idx, err := s.registry.Intern(opType, opName)
	if err != nil {
		s.counters.failed.Add(1)
		return opdesc.ProfOpDesc{}, fmt.Errorf("failed to intern op %q: %w", opName, err)
	}
	d := opdesc.ProfOpDesc{
		ModelID:       modelID,
		Flag:          t.Flag,
		ThreadID:      t.ThreadID,
		OpIndex:       idx,
		Duration:      t.End - t.Start,
		Start:         t.Start,
		End:           t.End,
		ExecutionTime: t.EndAicore - t.StartAicore,
		DeviceID:      t.DeviceID,
	}
	if opType == constants.FftsPlusOpType {
		d.Flag = opdesc.FlagSubscribeSubgraph
	}
	d.Sign()
	return d, nil
}

func (s *Store) pushDescriptors(descs ...opdesc.ProfOpDesc) {
	if len(descs) == 0 {
		return
	}
	s.descMu.Lock()
	s.descs = append(s.descs, descs...)
	s.descMu.Unlock()
}

// TakeDescriptors removes and returns every buffered descriptor.
func (s *Store) TakeDescriptors() []opdesc.ProfOpDesc {
	s.descMu.Lock()
	defer s.descMu.Unlock()
	out := s.descs
	s.descs = nil
	return out
}

// RequeueDescriptors puts descriptors back in front of the buffer.
func (s *Store) RequeueDescriptors(descs []opdesc.ProfOpDesc) {
	if len(descs) == 0 {
		return
	}
	s.descMu.Lock()
	defer s.descMu.Unlock()
	s.descs = append(append([]opdesc.ProfOpDesc(nil), descs...), s.descs...)
}

// Sizes reports the number of entries held by each table.
type Sizes struct {
	RuntimeTracks int `json:"runtime_tracks"`
	Parked        int `json:"parked"`
	Pending       int `json:"pending"`
	APIs          int `json:"apis"`
	Models        int `json:"models"`
	Nodes         int `json:"nodes"`
	Contexts      int `json:"contexts"`
	GraphOps      int `json:"graph_ops"`
	TaskInfos     int `json:"task_infos"`
	Streams       int `json:"streams"`
	GraphIDs      int `json:"graph_ids"`
	Descriptors   int `json:"descriptors"`
	OpTimes       int `json:"op_times"`
	Keypoints     int `json:"keypoints"`
}

// Sizes returns a snapshot of the table sizes.
func (s *Store) Sizes() Sizes {
	var sz Sizes
	sz.OpTimes, sz.Keypoints = s.steps.Len()

	s.trackMu.Lock()
	sz.RuntimeTracks = len(s.tracks)
	for _, tasks := range s.parked {
		sz.Parked += len(tasks)
	}
	s.trackMu.Unlock()

	s.graphMu.Lock()
	sz.Pending = len(s.pending)
	sz.APIs = s.apis.len()
	sz.Models = s.models.len()
	sz.Nodes = s.nodes.len()
	sz.Contexts = s.contexts.len()
	sz.GraphOps = s.graphOps.len()
	sz.TaskInfos = len(s.taskInfos)
	sz.Streams = len(s.streams)
	s.graphMu.Unlock()

	s.descMu.Lock()
	sz.Descriptors = len(s.descs)
	s.descMu.Unlock()

	s.graphIDMu.Lock()
	sz.GraphIDs = len(s.graphIDs)
	s.graphIDMu.Unlock()
	return sz
}

// Counters are cumulative join statistics of the session.
type Counters struct {
	Merges   uint64 `json:"merges"`   // api spans promoted to graph ops
	Joins    uint64 `json:"joins"`    // device tasks joined with a graph op
	Parked   uint64 `json:"parked"`   // device tasks parked for a runtime track
	Released uint64 `json:"released"` // parked tasks released by a runtime track
	Ordering uint64 `json:"ordering"` // records dropped for ordering violations
	Failed   uint64 `json:"failed"`   // descriptors that could not be built
}

// Counters returns the cumulative join statistics.
func (s *Store) Counters() Counters {
	return Counters{
		Merges:   s.counters.merges.Load(),
		Joins:    s.counters.joins.Load(),
		Parked:   s.counters.parked.Load(),
		Released: s.counters.released.Load(),
		Ordering: s.counters.ordering.Load(),
		Failed:   s.counters.failed.Load(),
	}
}
