package analyzer

import (
	"context"
	"slices"

	"npuprof/internal/correlation"
	"npuprof/internal/model"
	"npuprof/internal/opdesc"
	"npuprof/pkg/constants"
	"npuprof/pkg/logger"
)

// pendingUpload is an op time whose identity is known. It is described and
// uploaded after the step table lock is released.
type pendingUpload struct {
	opType  string
	opName  string
	modelID uint32
	op      model.OpTime
}

// postProcess re-evaluates the mode and matches task scheduler op times and
// step boundaries with their task descriptors.
func (a *Analyzer) postProcess(ctx context.Context) int {
	var uploads []pendingUpload
	a.store.Steps().Update(func(s *correlation.Steps) {
		cur := a.Mode()
		next := NextMode(cur, len(s.Keypoints) > 0, len(s.OpTimes) > 0)
		if next != cur && a.mode.CompareAndSwap(int32(cur), int32(next)) {
			logger.InfoCtx(ctx, "set profile mode: %s", next)
		}
		mode := a.Mode().Effective()

		if mode == ModeStepTrace && NeedsIndexUpdate(s.Keypoints) {
			logger.DebugCtx(ctx, "received new keypoint end")
			UpdateOpIndexIDs(s)
		}
		uploads = a.matchOpTimes(ctx, mode, s, uploads)
		uploads = a.matchKeypoints(mode, s, uploads)
	})

	sent := 0
	for _, u := range uploads {
		d, err := a.store.Describe(u.opType, u.opName, u.modelID, u.op)
		if err != nil {
			a.describeErrs.Add(1)
			logger.WarnCtx(ctx, "failed to describe op %q: %v", u.opName, err)
			continue
		}
		if err := a.upload(ctx, d); err == nil {
			sent++
		}
	}
	return sent
}

func taskKey(op model.OpTime, iteration uint64) model.TaskKey {
	return model.TaskKey{DeviceKey: op.Key, Iteration: iteration}
}

func fromTaskInfo(info model.TaskInfo, op model.OpTime) pendingUpload {
	return pendingUpload{opType: info.OpType, opName: info.OpName, modelID: info.ModelID, op: op}
}

// matchOpTimes removes every op time whose task descriptor is known and
// returns it for upload. Op times without a descriptor stay for a later pass.
func (a *Analyzer) matchOpTimes(ctx context.Context, mode Mode, s *correlation.Steps, out []pendingUpload) []pendingUpload {
	allStatic := a.store.AllStaticShape()
	kept := s.OpTimes[:0]
	for _, op := range s.OpTimes {
		switch mode {
		case ModeStepTrace:
			if op.IndexID == 0 {
				kept = append(kept, op)
				continue
			}
			info0, ok0 := a.store.TaskInfo(taskKey(op, 0))
			infoN, okN := a.store.TaskInfo(taskKey(op, op.IndexID))
			switch {
			case ok0 && okN:
				logger.WarnCtx(ctx, "task %s has descriptors for iteration 0 and %d, dropped", op.Key, op.IndexID)
			case ok0:
				out = append(out, fromTaskInfo(info0, op))
			case okN:
				out = append(out, fromTaskInfo(infoN, op))
			default:
				kept = append(kept, op)
			}

		case ModeStaticShape:
			if !allStatic {
				shape, ok := a.store.StreamShape(op.Key.StreamID)
				if !ok {
					kept = append(kept, op)
					continue
				}
				if shape == model.UnknownShapeStream {
					logger.DebugCtx(ctx, "task %s belongs to an unknown shape stream, dropped", op.Key)
					continue
				}
			}
			fallthrough

		default:
			if info, ok := a.store.TaskInfo(taskKey(op, 0)); ok {
				out = append(out, fromTaskInfo(info, op))
			} else {
				kept = append(kept, op)
			}
		}
	}
	s.OpTimes = kept
	return out
}

// matchKeypoints returns every completed step boundary for upload as a
// keypoint op. Static shape sessions drop them once returned; other modes keep
// them marked as uploaded so that op times can still be assigned to the step.
func (a *Analyzer) matchKeypoints(mode Mode, s *correlation.Steps, out []pendingUpload) []pendingUpload {
	static := mode == ModeStaticShape
	filter := a.graphTypeFilter.Load()
	kept := s.Keypoints[:0]
	for _, kp := range s.Keypoints {
		if !kp.Completed() || kp.Uploaded {
			kept = append(kept, kp)
			continue
		}
		modelID := uint32(kp.ModelID)
		graphID := a.store.GraphID(modelID)
		if filter && graphID == modelID {
			kept = append(kept, kp)
			continue
		}
		out = append(out, pendingUpload{
			opType:  constants.KeypointOpType,
			opName:  constants.KeypointOpName,
			modelID: graphID,
			op: model.OpTime{
				Start:    kp.Start,
				End:      kp.End,
				Flag:     opdesc.FlagSubscribeOp,
				IndexID:  uint64(graphID),
				DeviceID: a.deviceID.Load(),
			},
		})
		if !static {
			kp.Uploaded = true
			kept = append(kept, kp)
		}
	}
	clear(s.Keypoints[len(kept):])
	s.Keypoints = kept
	return out
}

// NeedsIndexUpdate reports whether a step boundary was completed since the
// last upload.
func NeedsIndexUpdate(kps []*model.Keypoint) bool {
	return slices.ContainsFunc(kps, func(kp *model.Keypoint) bool {
		return kp.Completed() && !kp.Uploaded
	})
}

// OpIndexID returns the index of the completed step whose open interval
// contains ts, or 0 when there is none. A hit is counted on the step.
func OpIndexID(kps []*model.Keypoint, ts uint64) uint64 {
	if len(kps) == 0 || (len(kps) == 1 && !kps[0].Completed()) {
		return 0
	}
	for _, kp := range kps {
		if !kp.Completed() {
			continue
		}
		if ts > kp.Start && ts < kp.End {
			kp.FindSuccTimes++
			return kp.IndexID
		}
	}
	return 0
}

// UpdateOpIndexIDs assigns a step to every op time that has none, by its end
// timestamp, then prunes uploaded steps older than the newest step assigned.
// It returns that newest step index.
func UpdateOpIndexIDs(s *correlation.Steps) uint64 {
	var maxID uint64
	for i := range s.OpTimes {
		op := &s.OpTimes[i]
		if op.IndexID != 0 {
			continue
		}
		op.IndexID = OpIndexID(s.Keypoints, op.End)
		maxID = max(maxID, op.IndexID)
	}
	s.Keypoints = slices.DeleteFunc(s.Keypoints, func(kp *model.Keypoint) bool {
		return kp.Uploaded && kp.IndexID < maxID
	})
	return maxID
}
