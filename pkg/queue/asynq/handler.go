package asynq

import (
	"context"
	"encoding/json"
	"fmt"

	"npuprof/internal/model"
	"npuprof/pkg/logger"

	"github.com/hibiken/asynq"
)

// RecordWriter persists one op record
type RecordWriter interface {
	Create(ctx context.Context, rec *model.OpRecord) error
}

// PersistHandler writes queued op records with w. A payload that does not
// decode is skipped instead of retried.
func PersistHandler(w RecordWriter) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var rec model.OpRecord
		if err := json.Unmarshal(t.Payload(), &rec); err != nil {
			logger.WarnCtx(ctx, "dropping malformed op record task: %v", err)
			return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
		}
		if err := w.Create(ctx, &rec); err != nil {
			return fmt.Errorf("failed to persist op record %s: %w", rec.ID, err)
		}
		return nil
	}
}
