package mysql

import (
	"npuprof/internal/model"
	mysqlmodel "npuprof/pkg/store/mysql/model"
)

// ToOpRecordDomain converts a MySQL row to the domain op record
func ToOpRecordDomain(row *mysqlmodel.OpRecord) *model.OpRecord {
	if row == nil {
		return nil
	}

	return &model.OpRecord{
		ID:            row.RecordID,
		SessionID:     row.SessionID,
		ModelID:       row.ModelID,
		ThreadID:      row.ThreadID,
		DeviceID:      row.DeviceID,
		Flag:          row.Flag,
		OpIndex:       row.OpIndex,
		OpName:        row.OpName,
		OpType:        row.OpType,
		Start:         row.Start,
		End:           row.End,
		Duration:      row.Duration,
		ExecutionTime: row.ExecutionTime,
		CubeFlops:     row.CubeFlops,
		VectorFlops:   row.VectorFlops,
		ReceivedAt:    row.ReceivedAt,
	}
}

// FromOpRecordDomain converts a domain op record to a MySQL row
func FromOpRecordDomain(rec *model.OpRecord) *mysqlmodel.OpRecord {
	if rec == nil {
		return nil
	}

	return &mysqlmodel.OpRecord{
		RecordID:      rec.ID,
		SessionID:     rec.SessionID,
		ModelID:       rec.ModelID,
		ThreadID:      rec.ThreadID,
		DeviceID:      rec.DeviceID,
		Flag:          rec.Flag,
		OpIndex:       rec.OpIndex,
		OpName:        rec.OpName,
		OpType:        rec.OpType,
		Start:         rec.Start,
		End:           rec.End,
		Duration:      rec.Duration,
		ExecutionTime: rec.ExecutionTime,
		CubeFlops:     rec.CubeFlops,
		VectorFlops:   rec.VectorFlops,
		ReceivedAt:    rec.ReceivedAt,
	}
}
