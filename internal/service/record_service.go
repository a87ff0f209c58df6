package service

import (
	"context"
	"errors"

	"npuprof/internal/model"
	mysqlmodel "npuprof/pkg/store/mysql/model"
)

// ErrStoreDisabled is returned by queries against a store that is not configured
var ErrStoreDisabled = errors.New("record store is not configured")

// RecentReader reads the recent-records list
type RecentReader interface {
	Recent(ctx context.Context, n int64) ([]*model.OpRecord, error)
	SessionCounts(ctx context.Context) (map[string]int64, error)
}

// HistoryReader reads persisted records
type HistoryReader interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.OpRecord, error)
	ListSessions(ctx context.Context, limit int) ([]*mysqlmodel.SessionSummary, error)
}

// RecordService answers record queries from whichever stores are configured
type RecordService struct {
	recent  RecentReader
	history HistoryReader
}

// NewRecordService creates a record service; either reader may be nil
func NewRecordService(recent RecentReader, history HistoryReader) *RecordService {
	return &RecordService{recent: recent, history: history}
}

// Recent returns the newest records
func (s *RecordService) Recent(ctx context.Context, n int64) ([]*model.OpRecord, error) {
	if s.recent == nil {
		return nil, ErrStoreDisabled
	}
	return s.recent.Recent(ctx, n)
}

// SessionRecords returns the persisted records of a session, falling back to
// the recent list when no database is configured
func (s *RecordService) SessionRecords(ctx context.Context, sessionID string, limit int) ([]*model.OpRecord, error) {
	if s.history != nil {
		return s.history.ListBySession(ctx, sessionID, limit)
	}
	if s.recent == nil {
		return nil, ErrStoreDisabled
	}
	recs, err := s.recent.Recent(ctx, int64(limit))
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Sessions summarizes the stored sessions
func (s *RecordService) Sessions(ctx context.Context, limit int) ([]*mysqlmodel.SessionSummary, error) {
	if s.history != nil {
		return s.history.ListSessions(ctx, limit)
	}
	if s.recent == nil {
		return nil, ErrStoreDisabled
	}
	counts, err := s.recent.SessionCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*mysqlmodel.SessionSummary, 0, len(counts))
	for id, n := range counts {
		out = append(out, &mysqlmodel.SessionSummary{SessionID: id, Records: n})
	}
	return out, nil
}
