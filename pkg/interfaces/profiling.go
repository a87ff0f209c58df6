package interfaces

import (
	"context"

	"npuprof/internal/model"
)

// Uploader accepts finished operator descriptors, one encoded record per call.
type Uploader interface {
	Upload(ctx context.Context, data []byte) error
}

// Flusher is implemented by uploaders that buffer.
type Flusher interface {
	Flush(ctx context.Context) error
}

// PlatformInfo exposes the device clock and platform identity.
type PlatformInfo interface {
	// FrequencyMHz returns the device clock frequency, e.g. "1000"
	FrequencyMHz() string
	// Platform returns the chip identifier, e.g. "CHIP_V4_1_0"
	Platform() string
}

// HashLookup resolves interned hash ids to strings.
// An unknown id resolves to an empty string.
type HashLookup interface {
	Resolve(hashID uint64) string
}

// HashRegistrar accepts new hash id mappings.
type HashRegistrar interface {
	Register(ctx context.Context, hashID uint64, value string) error
}

// RecordSink persists or streams decoded op records.
type RecordSink interface {
	Name() string
	Write(ctx context.Context, record *model.OpRecord) error
}
