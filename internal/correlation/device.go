package correlation

import (
	"context"
	"fmt"

	"npuprof/internal/model"
	"npuprof/pkg/constants"
	"npuprof/pkg/logger"
)

type match struct {
	op   model.GraphOp
	task model.DeviceTask
}

// trackKey is the key runtime tracks are recorded under: they carry no
// sub-task context id.
func trackKey(k model.DeviceKey) model.DeviceKey {
	k.ContextID = model.NoContext
	return k
}

// SubmitDeviceTask takes a completed device task. Without a runtime track for
// its key the task is parked; otherwise it inherits the track's thread and host
// timestamp and is joined with the graph ops of that thread. It returns the
// number of descriptors produced.
func (s *Store) SubmitDeviceTask(ctx context.Context, task model.DeviceTask) (int, error) {
	if task.Start >= task.End {
		s.counters.ordering.Add(1)
		return 0, fmt.Errorf("%w: device task %s start %d end %d", ErrOrdering, task.Key, task.Start, task.End)
	}

	key := trackKey(task.Key)
	s.trackMu.Lock()
	track, ok := s.tracks[key]
	if !ok {
		s.parked[key] = append(s.parked[key], task)
		s.trackMu.Unlock()
		s.counters.parked.Add(1)
		logger.DebugCtx(ctx, "parked device task %s until its runtime track arrives", task.Key)
		return 0, nil
	}
	s.trackMu.Unlock()

	return s.joinDevice(ctx, withTrack(task, track)), nil
}

// SubmitRuntimeTrack records the latest runtime track of a key and releases
// the device tasks parked under it.
func (s *Store) SubmitRuntimeTrack(ctx context.Context, track model.RuntimeTrack) int {
	track.Key = trackKey(track.Key)
	s.trackMu.Lock()
	s.tracks[track.Key] = track
	tasks := s.parked[track.Key]
	delete(s.parked, track.Key)
	s.trackMu.Unlock()

	built := 0
	for _, task := range tasks {
		s.counters.released.Add(1)
		built += s.joinDevice(ctx, withTrack(task, track))
	}
	return built
}

func withTrack(task model.DeviceTask, track model.RuntimeTrack) model.DeviceTask {
	task.ThreadID = track.ThreadID
	task.HostTimestamp = track.Timestamp
	task.Aged = track.Aged
	if task.DeviceID == 0 {
		task.DeviceID = track.DeviceID
	}
	return task
}

func (s *Store) joinDevice(ctx context.Context, task model.DeviceTask) int {
	s.graphMu.Lock()
	op, ok := s.takeGraphOpLocked(task)
	if !ok {
		s.pending = append(s.pending, task)
		s.graphMu.Unlock()
		return 0
	}
	s.graphMu.Unlock()
	return s.emit(ctx, []match{{op: op, task: task}})
}

// AddPendingDevice queues a device task that already carries its thread and
// host timestamp for the next graph join.
func (s *Store) AddPendingDevice(task model.DeviceTask) {
	s.graphMu.Lock()
	s.pending = append(s.pending, task)
	s.graphMu.Unlock()
}

// MatchPendingDevices joins pending device tasks with graph ops and returns
// the number of descriptors produced.
func (s *Store) MatchPendingDevices(ctx context.Context) int {
	s.graphMu.Lock()
	matches := s.matchPendingLocked()
	s.graphMu.Unlock()
	return s.emit(ctx, matches)
}

func (s *Store) matchPendingLocked() []match {
	if len(s.pending) == 0 || s.graphOps.len() == 0 {
		return nil
	}
	var matches []match
	kept := s.pending[:0]
	for _, task := range s.pending {
		op, ok := s.takeGraphOpLocked(task)
		if !ok {
			kept = append(kept, task)
			continue
		}
		matches = append(matches, match{op: op, task: task})
	}
	clear(s.pending[len(kept):])
	s.pending = kept
	return matches
}

// takeGraphOpLocked finds the first graph op of the task's thread whose span
// contains the host timestamp. The op is consumed unless ffts-plus is on, in
// which case one op serves every sub-task of the node.
func (s *Store) takeGraphOpLocked(task model.DeviceTask) (model.GraphOp, bool) {
	contextAware := s.fftsPlus && s.platform == constants.PlatformContextAware
	for i, op := range s.graphOps.byThread[task.ThreadID] {
		if !op.Contains(task.HostTimestamp) {
			continue
		}
		if contextAware && op.ContextID != model.NoNodeContext &&
			task.Key.ContextID != model.NoContext && task.Key.ContextID != op.ContextID {
			continue
		}
		found := *op
		if !s.fftsPlus {
			s.graphOps.removeAt(task.ThreadID, i)
		}
		return found, true
	}
	return model.GraphOp{}, false
}

// emit builds descriptors for the matches outside of every store lock and
// appends them to the output buffer.
func (s *Store) emit(ctx context.Context, matches []match) int {
	if len(matches) == 0 {
		return 0
	}
	built := 0
	for _, m := range matches {
		opName := s.Resolve(m.op.NameHash)
		opType := s.Resolve(m.op.TypeHash)
		d, err := s.Describe(opType, opName, uint32(m.op.ModelID), model.OpTime{
			Key:         m.task.Key,
			Start:       m.task.Start,
			End:         m.task.End,
			StartAicore: m.task.StartAicore,
			EndAicore:   m.task.EndAicore,
			ThreadID:    m.task.ThreadID,
			Flag:        m.task.Flag,
			DeviceID:    m.task.DeviceID,
		})
		if err != nil {
			logger.WarnCtx(ctx, "dropping joined op %s: %v", m.task.Key, err)
			continue
		}
		s.counters.joins.Add(1)
		logger.DebugCtx(ctx, "joined device task %s with op %q, model: %d, thread: %d, start: %d, end: %d",
			m.task.Key, opName, d.ModelID, d.ThreadID, d.Start, d.End)
		s.pushDescriptors(d)
		built++
	}
	return built
}
