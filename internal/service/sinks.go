package service

import (
	"context"
	"fmt"
	"sync"

	"npuprof/internal/model"
	"npuprof/pkg/constants"
	"npuprof/pkg/interfaces"
	"npuprof/pkg/logger"
	"npuprof/pkg/monitoring"
	"npuprof/pkg/store/mysql"
	redisstore "npuprof/pkg/store/redis"
)

// RedisSink pushes records onto the capped recent-records list
type RedisSink struct {
	store *redisstore.OpRecordStore
}

// NewRedisSink creates a Redis sink
func NewRedisSink(store *redisstore.OpRecordStore) *RedisSink {
	return &RedisSink{store: store}
}

func (s *RedisSink) Name() string { return constants.SinkRedis.String() }

func (s *RedisSink) Write(ctx context.Context, rec *model.OpRecord) error {
	return s.store.Push(ctx, rec)
}

// RecordBatchWriter inserts records in one statement
type RecordBatchWriter interface {
	CreateBatch(ctx context.Context, recs []*model.OpRecord) error
}

var _ RecordBatchWriter = (*mysql.OpRecordRepository)(nil)

// MySQLSink buffers records and inserts them in batches. It owns the retry
// of its buffer: Write succeeds once a record is buffered, a failed insert
// keeps the batch for the next Flush.
type MySQLSink struct {
	repo      RecordBatchWriter
	batchSize int
	capacity  int

	mu      sync.Mutex
	buf     []*model.OpRecord
	ids     map[string]struct{} // ids in buf
	dropped uint64
}

// NewMySQLSink creates a MySQL sink writing every batchSize records
func NewMySQLSink(repo RecordBatchWriter, batchSize int) *MySQLSink {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &MySQLSink{
		repo:      repo,
		batchSize: batchSize,
		capacity:  max(maxRetained, batchSize),
		ids:       make(map[string]struct{}),
	}
}

func (s *MySQLSink) Name() string { return constants.SinkMySQL.String() }

func (s *MySQLSink) Write(ctx context.Context, rec *model.OpRecord) error {
	s.mu.Lock()
	if _, dup := s.ids[rec.ID]; !dup {
		s.ids[rec.ID] = struct{}{}
		s.buf = append(s.buf, rec)
		// oldest records go first while the database is unreachable
		if over := len(s.buf) - s.capacity; over > 0 {
			for _, r := range s.buf[:over] {
				delete(s.ids, r.ID)
			}
			s.buf = s.buf[over:]
			s.dropped += uint64(over)
		}
	}
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()

	if !full {
		return nil
	}
	if err := s.Flush(ctx); err != nil {
		logger.WarnCtx(ctx, "mysql insert failed, %d records kept for retry: %v", s.Buffered(), err)
	}
	return nil
}

// Flush inserts the buffered records. They stay buffered on failure.
func (s *MySQLSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil
	}
	err := s.repo.CreateBatch(ctx, s.buf)
	monitoring.ObserveRecordWrite(s.Name(), err)
	if err != nil {
		return err
	}
	s.buf = nil
	clear(s.ids)
	return nil
}

// Buffered returns the number of records not yet inserted
func (s *MySQLSink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Dropped returns how many buffered records were evicted unsaved
func (s *MySQLSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// QueueSink hands records to the persistence queue
type QueueSink struct {
	queue interfaces.QueueProvider
}

// NewQueueSink creates a queue sink
func NewQueueSink(queue interfaces.QueueProvider) *QueueSink {
	return &QueueSink{queue: queue}
}

func (s *QueueSink) Name() string { return constants.SinkQueue.String() }

func (s *QueueSink) Write(ctx context.Context, rec *model.OpRecord) error {
	if err := s.queue.EnqueueRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to enqueue op record: %w", err)
	}
	return nil
}
