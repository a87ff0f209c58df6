package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"npuprof/internal/model"
	"npuprof/internal/opdesc"
	"npuprof/internal/opregistry"
	"npuprof/pkg/interfaces"
	"npuprof/pkg/logger"
	"npuprof/pkg/monitoring"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// maxRetained bounds the records kept per sink after a failed write
const maxRetained = 4096

// DescriptorService receives the analyzer's encoded descriptors, resolves the
// op strings from the registry and hands the record to every sink.
// A failed sink write is kept and retried on Flush; it does not fail the
// upload, so the analyzer never resends a descriptor whose strings are
// already consumed.
type DescriptorService struct {
	registry *opregistry.Registry
	sinks    []interfaces.RecordSink

	mu       sync.Mutex
	retained map[string][]*model.OpRecord

	received atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

var (
	_ interfaces.Uploader = (*DescriptorService)(nil)
	_ interfaces.Flusher  = (*DescriptorService)(nil)
)

// NewDescriptorService creates a descriptor service writing to sinks
func NewDescriptorService(registry *opregistry.Registry, sinks ...interfaces.RecordSink) *DescriptorService {
	return &DescriptorService{
		registry: registry,
		sinks:    sinks,
		retained: make(map[string][]*model.OpRecord),
	}
}

// Upload implements interfaces.Uploader
func (s *DescriptorService) Upload(ctx context.Context, data []byte) error {
	if err := opdesc.Verify(data); err != nil {
		return fmt.Errorf("rejecting descriptor: %w", err)
	}
	d, err := opdesc.Decode(data)
	if err != nil {
		return fmt.Errorf("rejecting descriptor: %w", err)
	}
	s.received.Add(1)

	rec := s.toRecord(ctx, d)
	for _, sink := range s.sinks {
		err := sink.Write(ctx, rec)
		monitoring.ObserveRecordWrite(sink.Name(), err)
		if err != nil {
			s.failed.Add(1)
			logger.WarnCtx(ctx, "failed to write op record %s to %s, retained for retry: %v", rec.ID, sink.Name(), err)
			s.retain(sink.Name(), rec)
		}
	}
	return nil
}

func (s *DescriptorService) toRecord(ctx context.Context, d opdesc.ProfOpDesc) *model.OpRecord {
	rec := &model.OpRecord{
		ID:            uuid.NewString(),
		SessionID:     model.SessionIDFrom(ctx),
		ModelID:       d.ModelID,
		ThreadID:      d.ThreadID,
		DeviceID:      d.DeviceID,
		Flag:          d.Flag,
		OpIndex:       d.OpIndex,
		Start:         d.Start,
		End:           d.End,
		Duration:      d.Duration,
		ExecutionTime: d.ExecutionTime,
		CubeFlops:     d.CubeFlops,
		VectorFlops:   d.VectorFlops,
		ReceivedAt:    time.Now(),
	}
	if s.registry == nil {
		return rec
	}
	name, err := s.registry.TakeName(d.OpIndex).Get()
	if err != nil {
		logger.WarnCtx(ctx, "op name of index %d: %v", d.OpIndex, err)
	}
	opType, err := s.registry.TakeType(d.OpIndex).Get()
	if err != nil {
		logger.WarnCtx(ctx, "op type of index %d: %v", d.OpIndex, err)
	}
	rec.OpName, rec.OpType = name, opType
	return rec
}

func (s *DescriptorService) retain(sink string, rec *model.OpRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := append(s.retained[sink], rec)
	if over := len(q) - maxRetained; over > 0 {
		s.dropped.Add(uint64(over))
		q = q[over:]
	}
	s.retained[sink] = q
}

// Flush retries retained records, then flushes sinks that buffer.
func (s *DescriptorService) Flush(ctx context.Context) error {
	var errs error
	for _, sink := range s.sinks {
		s.mu.Lock()
		pending := s.retained[sink.Name()]
		delete(s.retained, sink.Name())
		s.mu.Unlock()

		for i, rec := range pending {
			err := sink.Write(ctx, rec)
			monitoring.ObserveRecordWrite(sink.Name(), err)
			if err != nil {
				for _, r := range pending[i:] {
					s.retain(sink.Name(), r)
				}
				errs = multierr.Append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
				break
			}
		}

		if f, ok := sink.(interfaces.Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
			}
		}
	}
	return errs
}

// Sinks returns the names of the configured sinks
func (s *DescriptorService) Sinks() []string {
	names := make([]string, 0, len(s.sinks))
	for _, sink := range s.sinks {
		names = append(names, sink.Name())
	}
	return names
}

// DescriptorStats counts records by outcome
type DescriptorStats struct {
	Received uint64         `json:"received"`
	Failed   uint64         `json:"failed"`
	Dropped  uint64         `json:"dropped"`
	Retained map[string]int `json:"retained"`
}

// Stats returns the delivery counters
func (s *DescriptorService) Stats() DescriptorStats {
	s.mu.Lock()
	retained := make(map[string]int, len(s.retained))
	for name, q := range s.retained {
		retained[name] = len(q)
	}
	s.mu.Unlock()

	return DescriptorStats{
		Received: s.received.Load(),
		Failed:   s.failed.Load(),
		Dropped:  s.dropped.Load(),
		Retained: retained,
	}
}
