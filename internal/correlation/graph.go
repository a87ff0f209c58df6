package correlation

import (
	"context"
	"fmt"
	"slices"

	"npuprof/internal/model"
	"npuprof/pkg/constants"
	"npuprof/pkg/logger"
)

// spanTable is a multimap of host spans by thread id. Threads are visited in
// ascending order and spans of one thread in insertion order.
type spanTable struct {
	byThread map[uint32][]*model.GraphOp
	count    int
}

func (t *spanTable) reset() {
	t.byThread = make(map[uint32][]*model.GraphOp)
	t.count = 0
}

func (t *spanTable) add(threadID uint32, op model.GraphOp) {
	t.byThread[threadID] = append(t.byThread[threadID], &op)
	t.count++
}

func (t *spanTable) len() int {
	return t.count
}

func (t *spanTable) threads() []uint32 {
	ids := make([]uint32, 0, len(t.byThread))
	for id := range t.byThread {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (t *spanTable) removeAt(threadID uint32, i int) {
	list := t.byThread[threadID]
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(t.byThread, threadID)
	} else {
		t.byThread[threadID] = list
	}
	t.count--
}

// AddAPI records an API span of a thread.
func (s *Store) AddAPI(threadID uint32, start, end uint64, aged bool) {
	s.graphMu.Lock()
	s.apis.add(threadID, model.GraphOp{Start: start, End: end, Aged: aged, ContextID: model.NoNodeContext})
	s.graphMu.Unlock()
}

// AddModelEvent pairs model load events of a thread into model spans. The
// first event of a (thread, model) opens a span, the next one closes it, and
// an event for a closed span reopens it.
func (s *Store) AddModelEvent(threadID uint32, modelID, ts uint64, aged bool) error {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	closed := false
	for _, m := range s.models.byThread[threadID] {
		if m.ModelID != modelID {
			continue
		}
		if m.End != 0 {
			m.End = 0
			m.Start = ts
			return nil
		}
		if m.Start >= ts {
			s.counters.ordering.Add(1)
			return fmt.Errorf("%w: model %d on thread %d ends at %d, started at %d",
				ErrOrdering, modelID, threadID, ts, m.Start)
		}
		m.End = ts
		closed = true
	}
	if !closed {
		s.models.add(threadID, model.GraphOp{ModelID: modelID, Start: ts, Aged: aged, ContextID: model.NoNodeContext})
	}
	return nil
}

// AddNode records a graph node launched by a thread.
func (s *Store) AddNode(threadID uint32, ts, nameHash, typeHash uint64, aged bool) {
	s.graphMu.Lock()
	s.nodes.add(threadID, model.GraphOp{
		NameHash:  nameHash,
		TypeHash:  typeHash,
		Start:     ts,
		Aged:      aged,
		ContextID: model.NoNodeContext,
	})
	s.graphMu.Unlock()
}

// AddContext records the sub-task context id of a node.
func (s *Store) AddContext(threadID uint32, ts, nameHash uint64, contextID uint32) {
	s.graphMu.Lock()
	s.contexts.add(threadID, model.GraphOp{NameHash: nameHash, Start: ts, ContextID: contextID})
	s.graphMu.Unlock()
}

// SetFftsPlus switches correlation to ffts-plus mode until Reset.
func (s *Store) SetFftsPlus() bool {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()
	changed := !s.fftsPlus
	s.fftsPlus = true
	return changed
}

// FftsPlus reports whether ffts-plus mode is on.
func (s *Store) FftsPlus() bool {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()
	return s.fftsPlus
}

// AddGraphOp inserts a resolved span ready for the device join.
func (s *Store) AddGraphOp(threadID uint32, op model.GraphOp) {
	s.graphMu.Lock()
	s.graphOps.add(threadID, op)
	s.graphMu.Unlock()
}

// MatchAPIs resolves API spans against model spans and graph nodes, promotes
// the resolved ones to graph ops and retries the pending device tasks.
// It returns the number of descriptors produced.
func (s *Store) MatchAPIs(ctx context.Context) int {
	opTypeFlag := s.OpTypeFlag()

	s.graphMu.Lock()
	if s.apis.len() == 0 || s.nodes.len() == 0 {
		s.graphMu.Unlock()
		return 0
	}
	if s.models.len() == 0 && !opTypeFlag {
		s.graphMu.Unlock()
		return 0
	}
	if s.platform == constants.PlatformContextAware && s.fftsPlus {
		if s.contexts.len() == 0 {
			s.graphMu.Unlock()
			return 0
		}
		s.copyContextsToNodesLocked()
	}

	for _, tid := range s.apis.threads() {
		list := s.apis.byThread[tid]
		kept := list[:0]
		for _, api := range list {
			if !api.ModelMatched {
				s.matchModelLocked(tid, api)
			}
			if !api.ModelMatched && !opTypeFlag {
				kept = append(kept, api)
				continue
			}
			if !api.NodeMatched {
				s.matchNodeLocked(tid, api)
			}
			if !api.NodeMatched {
				kept = append(kept, api)
				continue
			}
			s.graphOps.add(tid, *api)
			s.counters.merges.Add(1)
			logger.DebugCtx(ctx, "graph op ready, thread: %d, start: %d, end: %d, model: %d, context: %d",
				tid, api.Start, api.End, api.ModelID, api.ContextID)
			if s.fftsPlus {
				api.NodeMatched = false
				kept = append(kept, api)
			}
		}
		clear(list[len(kept):])
		s.apis.count -= len(list) - len(kept)
		if len(kept) == 0 {
			delete(s.apis.byThread, tid)
		} else {
			s.apis.byThread[tid] = kept
		}
	}

	matches := s.matchPendingLocked()
	s.graphMu.Unlock()

	return s.emit(ctx, matches)
}

// copyContextsToNodesLocked gives every node the context id recorded for the
// same thread, timestamp and op name.
func (s *Store) copyContextsToNodesLocked() {
	for tid, nodes := range s.nodes.byThread {
		ctxs := s.contexts.byThread[tid]
		for _, n := range nodes {
			for _, c := range ctxs {
				if n.Start == c.Start && n.NameHash == c.NameHash {
					n.ContextID = c.ContextID
				}
			}
		}
	}
}

// matchModelLocked takes the first model span of the thread that strictly
// contains the API span and belongs to the same generation.
func (s *Store) matchModelLocked(threadID uint32, api *model.GraphOp) {
	for _, m := range s.models.byThread[threadID] {
		if api.Start > m.Start && api.End < m.End && api.Aged == m.Aged {
			api.ModelID = m.ModelID
			api.ModelMatched = true
			return
		}
	}
}

// matchNodeLocked takes and removes the first node of the thread launched
// within the API span.
func (s *Store) matchNodeLocked(threadID uint32, api *model.GraphOp) {
	for i, n := range s.nodes.byThread[threadID] {
		if n.Start >= api.Start && n.Start <= api.End {
			api.NameHash = n.NameHash
			api.TypeHash = n.TypeHash
			api.ContextID = n.ContextID
			api.NodeMatched = true
			s.nodes.removeAt(threadID, i)
			return
		}
	}
}

// AddTaskInfo records a graph task descriptor and classifies its stream:
// iteration 0 marks a known-shape stream, anything else an unknown-shape one.
func (s *Store) AddTaskInfo(info model.TaskInfo) {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	streamID := info.Key.StreamID
	switch info.Key.Iteration {
	case 0:
		if _, ok := s.streams[streamID]; !ok {
			s.streams[streamID] = &model.StreamState{Shape: model.KnownShapeStream}
		}
	case 1:
		s.allStatic = false
		if _, ok := s.streams[streamID]; !ok {
			s.streams[streamID] = &model.StreamState{Shape: model.UnknownShapeStream}
		}
	default:
		s.allStatic = false
	}
	s.taskInfos[info.Key] = info
}

// TaskInfo returns the task descriptor recorded under key.
func (s *Store) TaskInfo(key model.TaskKey) (model.TaskInfo, bool) {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()
	info, ok := s.taskInfos[key]
	return info, ok
}

// StreamShape returns the classification of a stream, false while unknown.
func (s *Store) StreamShape(streamID uint32) (model.StreamShape, bool) {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()
	st, ok := s.streams[streamID]
	if !ok {
		return model.KnownShapeStream, false
	}
	return st.Shape, true
}

// AllStaticShape reports whether no task descriptor of a dynamic shape was seen.
func (s *Store) AllStaticShape() bool {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()
	return s.allStatic
}

// FlipStream records a wrap of the 16-bit task id counter of a known stream.
func (s *Store) FlipStream(streamID uint32, flipNum, taskID uint32) bool {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()
	st, ok := s.streams[streamID]
	if !ok {
		return false
	}
	st.HighTaskID = flipNum
	st.LowTaskID = taskID
	return true
}
