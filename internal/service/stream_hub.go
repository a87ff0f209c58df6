package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"npuprof/internal/model"
	"npuprof/pkg/constants"
	"npuprof/pkg/logger"

	"github.com/google/uuid"
)

const subscriberBuffer = 256

// StreamHub fans records out to live subscribers. A subscriber that does not
// keep up loses records instead of stalling the analyzer.
type StreamHub struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	ch      chan []byte
	session string // "" receives every session
	dropped atomic.Uint64
}

// NewStreamHub creates an empty hub
func NewStreamHub() *StreamHub {
	return &StreamHub{subs: make(map[string]*subscriber)}
}

func (h *StreamHub) Name() string { return constants.SinkWebSocket.String() }

// Write implements interfaces.RecordSink
func (h *StreamHub) Write(ctx context.Context, rec *model.OpRecord) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.subs) == 0 {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal op record: %w", err)
	}
	for id, sub := range h.subs {
		if sub.session != "" && sub.session != rec.SessionID {
			continue
		}
		select {
		case sub.ch <- data:
		default:
			sub.dropped.Add(1)
			logger.DebugCtx(ctx, "stream subscriber %s is slow, record %s dropped", id, rec.ID)
		}
	}
	return nil
}

// Subscribe registers a subscriber for session ("" for all sessions)
func (h *StreamHub) Subscribe(session string) (string, <-chan []byte) {
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer), session: session}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel
func (h *StreamHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Subscribers returns the number of live subscribers
func (h *StreamHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many records live subscribers missed
func (h *StreamHub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var n uint64
	for _, sub := range h.subs {
		n += sub.dropped.Load()
	}
	return n
}
