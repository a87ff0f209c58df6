package asynq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"npuprof/internal/model"
	"npuprof/pkg/config"
	"npuprof/pkg/interfaces"
	"npuprof/pkg/logger"

	"github.com/hibiken/asynq"
)

const (
	TypeRecordPersist = "op_record:persist"
)

// Manager queue manager
type Manager struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector

	queue    string
	maxRetry int
	timeout  time.Duration
}

var _ interfaces.QueueProvider = (*Manager)(nil)

// NewManager creates queue manager
func NewManager(redisCfg config.RedisConfig, queueCfg config.QueueConfig) (*Manager, error) {
	if redisCfg.Addr == "" {
		return nil, fmt.Errorf("queue needs a redis address")
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: queueCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 10,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Second
			},
		},
	)

	return &Manager{
		client:    asynq.NewClient(redisOpt),
		server:    server,
		mux:       asynq.NewServeMux(),
		inspector: asynq.NewInspector(redisOpt),
		queue:     queueCfg.Name,
		maxRetry:  queueCfg.MaxRetry,
		timeout:   time.Duration(queueCfg.TaskTimeout) * time.Second,
	}, nil
}

// NewPersistTask builds the task carrying rec
func NewPersistTask(rec *model.OpRecord) (*asynq.Task, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal op record: %w", err)
	}
	return asynq.NewTask(TypeRecordPersist, payload), nil
}

// EnqueueRecord schedules rec for persistence. The record id doubles as the
// task id so a record enqueued twice is persisted once.
func (m *Manager) EnqueueRecord(ctx context.Context, rec *model.OpRecord) error {
	task, err := NewPersistTask(rec)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.TaskID(rec.ID),
		asynq.Queue(m.queue),
		asynq.Timeout(m.timeout),
		asynq.MaxRetry(m.maxRetry),
	}

	info, err := m.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue op record %s: %w", rec.ID, err)
	}

	logger.DebugCtx(ctx, "op record enqueued, id: %s, queue: %s", rec.ID, info.Queue)
	return nil
}

// Stats returns queue statistics
func (m *Manager) Stats(ctx context.Context) (*interfaces.QueueStats, error) {
	info, err := m.inspector.GetQueueInfo(m.queue)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue info: %w", err)
	}
	return &interfaces.QueueStats{
		Queue:          info.Queue,
		PendingCount:   info.Pending,
		ActiveCount:    info.Active,
		CompletedCount: info.Completed,
		FailedCount:    info.Failed,
		RetryCount:     info.Retry,
	}, nil
}

// RegisterHandler registers task handler
func (m *Manager) RegisterHandler(pattern string, handler asynq.Handler) {
	m.mux.Handle(pattern, handler)
}

// Start starts queue processor
func (m *Manager) Start() error {
	logger.InfoCtx(context.Background(), "starting queue server, queue: %s", m.queue)
	return m.server.Start(m.mux)
}

// Stop stops queue processor
func (m *Manager) Stop() {
	logger.InfoCtx(context.Background(), "stopping queue server")
	m.server.Stop()
	m.server.Shutdown()
}

// Close closes client
func (m *Manager) Close() error {
	if err := m.inspector.Close(); err != nil {
		logger.WarnCtx(context.Background(), "failed to close queue inspector: %v", err)
	}
	return m.client.Close()
}
