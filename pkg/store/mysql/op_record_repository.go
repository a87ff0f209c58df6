package mysql

import (
	"context"
	"fmt"
	"time"

	"npuprof/internal/model"
	mysqlmodel "npuprof/pkg/store/mysql/model"
)

const defaultBatchSize = 200

// OpRecordRepository handles op record persistence
type OpRecordRepository struct {
	ds *Datastore
}

// NewOpRecordRepository creates a new op record repository
func NewOpRecordRepository(ds *Datastore) *OpRecordRepository {
	return &OpRecordRepository{ds: ds}
}

// Create inserts one op record
func (r *OpRecordRepository) Create(ctx context.Context, rec *model.OpRecord) error {
	row := FromOpRecordDomain(rec)
	if row == nil {
		return nil
	}
	if err := r.ds.DB(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create op record %s: %w", rec.ID, err)
	}
	return nil
}

// CreateBatch inserts records in batches inside one transaction
func (r *OpRecordRepository) CreateBatch(ctx context.Context, recs []*model.OpRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]*mysqlmodel.OpRecord, 0, len(recs))
	for _, rec := range recs {
		if row := FromOpRecordDomain(rec); row != nil {
			rows = append(rows, row)
		}
	}

	return r.ds.ExecTx(ctx, func(ctx context.Context) error {
		if err := r.ds.DB(ctx).CreateInBatches(rows, defaultBatchSize).Error; err != nil {
			return fmt.Errorf("failed to create %d op records: %w", len(rows), err)
		}
		return nil
	})
}

// ListBySession returns the records of a session ordered by start cycle
func (r *OpRecordRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.OpRecord, error) {
	var rows []*mysqlmodel.OpRecord
	q := r.ds.DB(ctx).Where("session_id = ?", sessionID).Order("start_cycle ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list op records of session %s: %w", sessionID, err)
	}

	out := make([]*model.OpRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, ToOpRecordDomain(row))
	}
	return out, nil
}

// ListSessions summarizes stored sessions, newest first
func (r *OpRecordRepository) ListSessions(ctx context.Context, limit int) ([]*mysqlmodel.SessionSummary, error) {
	var out []*mysqlmodel.SessionSummary
	q := r.ds.DB(ctx).Model(&mysqlmodel.OpRecord{}).
		Select("session_id, COUNT(*) AS records, MIN(received_at) AS first_seen, MAX(received_at) AS last_seen").
		Group("session_id").
		Order("last_seen DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes records received before cutoff and returns how many went
func (r *OpRecordRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.ds.DB(ctx).Where("received_at < ?", cutoff).Delete(&mysqlmodel.OpRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete op records before %s: %w", cutoff.Format(time.RFC3339), res.Error)
	}
	return res.RowsAffected, nil
}
