package model

import "time"

// OpRecord is a decoded operator descriptor with its op name and type resolved.
// It is what record sinks persist and stream.
type OpRecord struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	ModelID       uint32    `json:"model_id"`
	ThreadID      uint32    `json:"thread_id"`
	DeviceID      uint32    `json:"device_id"`
	Flag          uint32    `json:"flag"`
	OpIndex       uint64    `json:"op_index"`
	OpName        string    `json:"op_name"`
	OpType        string    `json:"op_type"`
	Start         uint64    `json:"start"`
	End           uint64    `json:"end"`
	Duration      uint64    `json:"duration"`
	ExecutionTime uint64    `json:"execution_time"`
	CubeFlops     uint64    `json:"cube_flops"`
	VectorFlops   uint64    `json:"vector_flops"`
	ReceivedAt    time.Time `json:"received_at"`
}
