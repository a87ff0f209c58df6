// Package opdesc defines the fixed binary operator descriptor emitted by the analyzer.
package opdesc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Size is the encoded size of one descriptor.
const Size = 80

// Descriptor flags set by the analyzer. Other values are carried through
// from the device records unchanged.
const (
	FlagSubscribeOp       uint32 = 0
	FlagSubscribeSubgraph uint32 = 1
)

var (
	// ErrBadLength is returned when a buffer is not a whole number of descriptors.
	ErrBadLength = errors.New("descriptor buffer length is not a multiple of descriptor size")
	// ErrBadSignature is returned when the stored signature does not match the payload.
	ErrBadSignature = errors.New("descriptor signature mismatch")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ProfOpDesc is one fully correlated operator execution.
type ProfOpDesc struct {
	Signature     uint32
	ModelID       uint32
	Flag          uint32
	ThreadID      uint32
	OpIndex       uint64
	Duration      uint64
	Start         uint64
	End           uint64
	ExecutionTime uint64
	CubeFlops     uint64
	VectorFlops   uint64
	DeviceID      uint32
}

// Encode writes the little-endian layout, signature first. The 4 trailing pad bytes are zero.
func (d *ProfOpDesc) Encode() []byte {
	buf := make([]byte, Size)
	d.put(buf)
	return buf
}

func (d *ProfOpDesc) put(buf []byte) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:], d.Signature)
	le.PutUint32(buf[4:], d.ModelID)
	le.PutUint32(buf[8:], d.Flag)
	le.PutUint32(buf[12:], d.ThreadID)
	le.PutUint64(buf[16:], d.OpIndex)
	le.PutUint64(buf[24:], d.Duration)
	le.PutUint64(buf[32:], d.Start)
	le.PutUint64(buf[40:], d.End)
	le.PutUint64(buf[48:], d.ExecutionTime)
	le.PutUint64(buf[56:], d.CubeFlops)
	le.PutUint64(buf[64:], d.VectorFlops)
	le.PutUint32(buf[72:], d.DeviceID)
	le.PutUint32(buf[76:], 0)
}

// Sign recomputes Signature over every other field.
func (d *ProfOpDesc) Sign() {
	buf := make([]byte, Size)
	d.put(buf)
	d.Signature = Signature(buf)
}

// Signature computes the checksum of an encoded descriptor, skipping its signature field.
// The checksum is reflected CRC-32C seeded with 0xFFFFFFFF and without the final inversion.
func Signature(encoded []byte) uint32 {
	return ^crc32.Checksum(encoded[4:Size], castagnoli)
}

// Decode reads one descriptor from the first Size bytes of data.
func Decode(data []byte) (ProfOpDesc, error) {
	if len(data) < Size {
		return ProfOpDesc{}, fmt.Errorf("%w: got %d bytes", ErrBadLength, len(data))
	}
	le := binary.LittleEndian
	return ProfOpDesc{
		Signature:     le.Uint32(data[0:]),
		ModelID:       le.Uint32(data[4:]),
		Flag:          le.Uint32(data[8:]),
		ThreadID:      le.Uint32(data[12:]),
		OpIndex:       le.Uint64(data[16:]),
		Duration:      le.Uint64(data[24:]),
		Start:         le.Uint64(data[32:]),
		End:           le.Uint64(data[40:]),
		ExecutionTime: le.Uint64(data[48:]),
		CubeFlops:     le.Uint64(data[56:]),
		VectorFlops:   le.Uint64(data[64:]),
		DeviceID:      le.Uint32(data[72:]),
	}, nil
}

// OpNum returns how many descriptors a buffer holds.
func OpNum(data []byte) (int, error) {
	if len(data)%Size != 0 {
		return 0, fmt.Errorf("%w: got %d bytes", ErrBadLength, len(data))
	}
	return len(data) / Size, nil
}

// DecodeAll decodes and verifies every descriptor in data.
func DecodeAll(data []byte) ([]ProfOpDesc, error) {
	n, err := OpNum(data)
	if err != nil {
		return nil, err
	}
	out := make([]ProfOpDesc, 0, n)
	for i := 0; i < n; i++ {
		rec := data[i*Size : (i+1)*Size]
		if err := Verify(rec); err != nil {
			return out, fmt.Errorf("descriptor %d: %w", i, err)
		}
		d, _ := Decode(rec)
		out = append(out, d)
	}
	return out, nil
}

// Verify checks the stored signature of one encoded descriptor.
func Verify(encoded []byte) error {
	if len(encoded) < Size {
		return fmt.Errorf("%w: got %d bytes", ErrBadLength, len(encoded))
	}
	stored := binary.LittleEndian.Uint32(encoded[0:])
	if want := Signature(encoded); stored != want {
		return fmt.Errorf("%w: stored %#x, computed %#x", ErrBadSignature, stored, want)
	}
	return nil
}
