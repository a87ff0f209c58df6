package interfaces

import (
	"context"

	"npuprof/internal/model"
)

// QueueProvider moves op records to asynchronous persistence.
// Implementations: asynq (Redis).
type QueueProvider interface {
	// EnqueueRecord schedules record for persistence
	EnqueueRecord(ctx context.Context, record *model.OpRecord) error

	// Stats returns queue statistics
	Stats(ctx context.Context) (*QueueStats, error)

	// Close closes queue connection
	Close() error
}

// QueueStats queue statistics
type QueueStats struct {
	Queue          string `json:"queue"`
	PendingCount   int    `json:"pendingCount"`
	ActiveCount    int    `json:"activeCount"`
	CompletedCount int    `json:"completedCount"`
	FailedCount    int    `json:"failedCount"`
	RetryCount     int    `json:"retryCount"`
}
