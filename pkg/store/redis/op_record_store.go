package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"npuprof/internal/model"

	"github.com/go-redis/redis/v8"
)

const sessionCountSuffix = ":sessions" // hash: session id -> records pushed

// OpRecordStore keeps the most recent op records in a capped Redis list,
// newest first, plus a per-session record count.
type OpRecordStore struct {
	redis *redis.Client
	key   string
	cap   int64
}

// NewOpRecordStore creates a store on list key trimmed to capacity entries
func NewOpRecordStore(client *redis.Client, key string, capacity int64) *OpRecordStore {
	return &OpRecordStore{redis: client, key: key, cap: capacity}
}

// Push appends rec to the head of the list
func (s *OpRecordStore) Push(ctx context.Context, rec *model.OpRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal op record: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	if s.cap > 0 {
		pipe.LTrim(ctx, s.key, 0, s.cap-1)
	}
	pipe.HIncrBy(ctx, s.key+sessionCountSuffix, rec.SessionID, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push op record: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest first
func (s *OpRecordStore) Recent(ctx context.Context, n int64) ([]*model.OpRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := s.redis.LRange(ctx, s.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read op records: %w", err)
	}

	out := make([]*model.OpRecord, 0, len(items))
	for _, item := range items {
		var rec model.OpRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			// written by another version; skip it
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// Len returns the list length
func (s *OpRecordStore) Len(ctx context.Context) (int64, error) {
	n, err := s.redis.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get op record count: %w", err)
	}
	return n, nil
}

// SessionCounts returns how many records each session pushed
func (s *OpRecordStore) SessionCounts(ctx context.Context) (map[string]int64, error) {
	raw, err := s.redis.HGetAll(ctx, s.key+sessionCountSuffix).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session counts: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for id, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[id] = n
		}
	}
	return out, nil
}

// Clear removes the list and the session counts
func (s *OpRecordStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key, s.key+sessionCountSuffix).Err(); err != nil {
		return fmt.Errorf("failed to clear op records: %w", err)
	}
	return nil
}
