package model

import "time"

// OpRecord is one uploaded operator descriptor
type OpRecord struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RecordID      string    `gorm:"column:record_id;type:varchar(64);not null;uniqueIndex:uk_record_id"`
	SessionID     string    `gorm:"column:session_id;type:varchar(64);not null;index:idx_session_start,priority:1"`
	ModelID       uint32    `gorm:"column:model_id;not null;default:0"`
	ThreadID      uint32    `gorm:"column:thread_id;not null;default:0"`
	DeviceID      uint32    `gorm:"column:device_id;not null;default:0"`
	Flag          uint32    `gorm:"column:flag;not null;default:0"`
	OpIndex       uint64    `gorm:"column:op_index;not null;default:0"`
	OpName        string    `gorm:"column:op_name;type:varchar(255);not null;default:''"`
	OpType        string    `gorm:"column:op_type;type:varchar(128);not null;default:'';index:idx_op_type"`
	Start         uint64    `gorm:"column:start_cycle;not null;index:idx_session_start,priority:2"`
	End           uint64    `gorm:"column:end_cycle;not null"`
	Duration      uint64    `gorm:"column:duration;not null;default:0"`
	ExecutionTime uint64    `gorm:"column:execution_time;not null;default:0"`
	CubeFlops     uint64    `gorm:"column:cube_flops;not null;default:0"`
	VectorFlops   uint64    `gorm:"column:vector_flops;not null;default:0"`
	ReceivedAt    time.Time `gorm:"column:received_at;type:datetime(3);not null;index:idx_received_at"`
	CreatedAt     time.Time `gorm:"column:created_at;type:datetime(3);not null;autoCreateTime"`
}

// TableName specifies the table name
func (OpRecord) TableName() string {
	return "op_records"
}

// SessionSummary aggregates the records of one analyzer session
type SessionSummary struct {
	SessionID string    `gorm:"column:session_id" json:"session_id"`
	Records   int64     `gorm:"column:records" json:"records"`
	FirstSeen time.Time `gorm:"column:first_seen" json:"first_seen"`
	LastSeen  time.Time `gorm:"column:last_seen" json:"last_seen"`
}
