package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"npuprof/internal/model"
	"npuprof/internal/opdesc"
)

// DescriptorWriter appends encoded descriptors to w unchanged, so the output
// can be checked with opdesc.DecodeAll.
type DescriptorWriter struct {
	mu sync.Mutex
	w  io.Writer
	n  int
}

// NewDescriptorWriter creates a raw descriptor uploader
func NewDescriptorWriter(w io.Writer) *DescriptorWriter {
	return &DescriptorWriter{w: w}
}

// Upload implements interfaces.Uploader
func (d *DescriptorWriter) Upload(_ context.Context, data []byte) error {
	if len(data) != opdesc.Size {
		return fmt.Errorf("%w: got %d bytes", opdesc.ErrBadLength, len(data))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.w.Write(data); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}
	d.n++
	return nil
}

// Count returns the number of descriptors written
func (d *DescriptorWriter) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// JSONLinesSink writes one JSON object per record
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesSink creates a JSON lines sink on w
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

func (s *JSONLinesSink) Name() string { return "jsonl" }

func (s *JSONLinesSink) Write(_ context.Context, rec *model.OpRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}
