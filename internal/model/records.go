package model

import "fmt"

// NoContext marks a task that carries no sub-task context id.
const NoContext uint32 = 0xFFFFFFFF

// NoNodeContext is the context id of a graph span before context correlation.
const NoNodeContext uint32 = 0xFFFF

// DeviceKey identifies a device task across producers.
type DeviceKey struct {
	TaskID    uint32 `json:"task_id"`
	StreamID  uint32 `json:"stream_id"`
	ContextID uint32 `json:"context_id"`
}

func (k DeviceKey) String() string {
	return fmt.Sprintf("%d-%d-%d", k.TaskID, k.StreamID, k.ContextID)
}

// TaskKey identifies a graph task descriptor for one iteration.
type TaskKey struct {
	DeviceKey
	Iteration uint64 `json:"iteration"`
}

func (k TaskKey) String() string {
	return fmt.Sprintf("%s-%d", k.DeviceKey, k.Iteration)
}

// OpTime is one device-observed execution window of a task (timestamps in ns).
type OpTime struct {
	Key         DeviceKey `json:"key"`
	Start       uint64    `json:"start"`
	End         uint64    `json:"end"`
	StartAicore uint64    `json:"start_aicore"`
	EndAicore   uint64    `json:"end_aicore"`
	ThreadID    uint32    `json:"thread_id"`
	Flag        uint32    `json:"flag"`
	IndexID     uint64    `json:"index_id"` // step index, 0 while unknown
	DeviceID    uint32    `json:"device_id"`
}

// DeviceTask is a normalized device-side observation waiting for host correlation.
type DeviceTask struct {
	Key           DeviceKey `json:"key"`
	Start         uint64    `json:"start"`
	End           uint64    `json:"end"`
	StartAicore   uint64    `json:"start_aicore"`
	EndAicore     uint64    `json:"end_aicore"`
	ThreadID      uint32    `json:"thread_id"`
	HostTimestamp uint64    `json:"host_timestamp"`
	Aged          bool      `json:"aged"`
	DeviceID      uint32    `json:"device_id"`
	Flag          uint32    `json:"flag"`
}

// RuntimeTrack is a host-observed task launch from the runtime tracker.
type RuntimeTrack struct {
	Key       DeviceKey `json:"key"`
	ThreadID  uint32    `json:"thread_id"`
	Timestamp uint64    `json:"timestamp"`
	DeviceID  uint32    `json:"device_id"`
	Aged      bool      `json:"aged"`
}

// GraphOp is a host-side span: an API call, a model run, a graph node or a
// context, progressively enriched until it can be joined with device tasks.
type GraphOp struct {
	NameHash     uint64 `json:"name_hash"`
	TypeHash     uint64 `json:"type_hash"`
	ModelID      uint64 `json:"model_id"`
	Start        uint64 `json:"start"`
	End          uint64 `json:"end"`
	ModelMatched bool   `json:"model_matched"`
	NodeMatched  bool   `json:"node_matched"`
	Aged         bool   `json:"aged"`
	ContextID    uint32 `json:"context_id"`
}

// Contains reports whether ts lies in (Start, End].
func (g *GraphOp) Contains(ts uint64) bool {
	return ts > g.Start && ts <= g.End
}

// StreamShape classifies a device stream.
type StreamShape int

const (
	KnownShapeStream StreamShape = iota
	UnknownShapeStream
)

func (s StreamShape) String() string {
	if s == UnknownShapeStream {
		return "unknown-shape"
	}
	return "known-shape"
}

// StreamState is the per-stream classification plus task id flip bookkeeping.
type StreamState struct {
	Shape      StreamShape `json:"shape"`
	HighTaskID uint32      `json:"high_task_id"`
	LowTaskID  uint32      `json:"low_task_id"`
}

// TaskInfo is a graph task descriptor (op identity for one task slot).
type TaskInfo struct {
	Key     TaskKey `json:"key"`
	ModelID uint32  `json:"model_id"`
	OpName  string  `json:"op_name"`
	OpType  string  `json:"op_type"`
}

// KeypointKey identifies a step boundary.
type KeypointKey struct {
	ModelID uint64 `json:"model_id"`
	IndexID uint64 `json:"index_id"`
}

// Keypoint is one step-trace iteration boundary.
type Keypoint struct {
	StreamID      uint32 `json:"stream_id"`
	TaskID        uint32 `json:"task_id"`
	IndexID       uint64 `json:"index_id"`
	ModelID       uint64 `json:"model_id"`
	Start         uint64 `json:"start"`
	End           uint64 `json:"end"`
	Uploaded      bool   `json:"uploaded"`
	FindSuccTimes uint64 `json:"find_succ_times"`
}

// Key returns the keypoint identity.
func (k *Keypoint) Key() KeypointKey {
	return KeypointKey{ModelID: k.ModelID, IndexID: k.IndexID}
}

// Completed reports whether the end marker was seen.
func (k *Keypoint) Completed() bool {
	return k.End != 0
}
