package correlation

import (
	"fmt"
	"sync"

	"npuprof/internal/model"
)

// Steps is the task scheduler state: finalized op times waiting for their
// task descriptor and the step boundaries seen so far, both in arrival order.
type Steps struct {
	OpTimes   []model.OpTime
	Keypoints []*model.Keypoint
}

// StepTable guards Steps.
type StepTable struct {
	mu    sync.Mutex
	steps Steps
}

// NewStepTable creates an empty table.
func NewStepTable() *StepTable {
	return &StepTable{}
}

// Update runs fn with exclusive access to the steps. fn may read the store's
// task infos and graph ids but must not call back into the table.
func (t *StepTable) Update(fn func(s *Steps)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.steps)
}

// AddOpTime appends a finalized op time.
func (t *StepTable) AddOpTime(op model.OpTime) {
	t.mu.Lock()
	t.steps.OpTimes = append(t.steps.OpTimes, op)
	t.mu.Unlock()
}

// StartKeypoint opens a step boundary. A start for a step that is still open
// is rejected and the open one is kept; a start for a closed step reopens it.
func (t *StepTable) StartKeypoint(kp model.Keypoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur := t.findLocked(kp.Key()); cur != nil {
		if !cur.Completed() {
			return fmt.Errorf("%w: step %d of model %d started twice", ErrOrdering, kp.IndexID, kp.ModelID)
		}
		cur.Start = kp.Start
		cur.End = 0
		cur.Uploaded = false
		cur.FindSuccTimes = 0
		return nil
	}
	kp.End = 0
	t.steps.Keypoints = append(t.steps.Keypoints, &kp)
	return nil
}

// EndKeypoint closes an open step boundary.
func (t *StepTable) EndKeypoint(key model.KeypointKey, end uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.findLocked(key)
	if cur == nil || cur.Completed() {
		return fmt.Errorf("%w: step %d of model %d ended without a start", ErrOrdering, key.IndexID, key.ModelID)
	}
	if end <= cur.Start {
		return fmt.Errorf("%w: step %d of model %d ends at %d, started at %d",
			ErrOrdering, key.IndexID, key.ModelID, end, cur.Start)
	}
	cur.End = end
	return nil
}

// Keypoint returns a copy of the step boundary under key.
func (t *StepTable) Keypoint(key model.KeypointKey) (model.Keypoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur := t.findLocked(key); cur != nil {
		return *cur, true
	}
	return model.Keypoint{}, false
}

func (t *StepTable) findLocked(key model.KeypointKey) *model.Keypoint {
	for _, kp := range t.steps.Keypoints {
		if kp.Key() == key {
			return kp
		}
	}
	return nil
}

// Len returns the number of op times and keypoints.
func (t *StepTable) Len() (opTimes, keypoints int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps.OpTimes), len(t.steps.Keypoints)
}

// Reset drops every op time and keypoint.
func (t *StepTable) Reset() {
	t.mu.Lock()
	t.steps = Steps{}
	t.mu.Unlock()
}
