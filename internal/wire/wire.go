// Package wire decodes the fixed-layout little-endian records produced by the
// profiling sources. Every decoder checks the record length before reading.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrShortRecord is returned when fewer bytes remain than the record needs.
	ErrShortRecord = errors.New("short record")
	// ErrBadMagic is returned when a record does not start with the expected magic number.
	ErrBadMagic = errors.New("bad magic number")
	// ErrBadTag is returned for a record whose data tag does not match its stream.
	ErrBadTag = errors.New("bad data tag")
	// ErrBadSize is returned when a self-describing record declares an implausible size.
	ErrBadSize = errors.New("bad record size")
	// ErrBadEnum is returned for an enum field outside its defined values.
	ErrBadEnum = errors.New("bad enum value")
)

var le = binary.LittleEndian

// MagicNumber starts every host-side record.
const MagicNumber uint16 = 0x5A5A

// Report levels of host records.
const (
	LevelModel   uint16 = 15000
	LevelNode    uint16 = 10000
	LevelRuntime uint16 = 5000
)

// Report types of host records.
const (
	TypeModelLoad     uint32 = 2
	TypeContextIDInfo uint32 = 4
	TypeNodeLaunch    uint32 = 5
)

// EventFlag marks an event record in the end-time slot of an API record.
const EventFlag uint64 = 0xFFFFFFFFFFFFFFFF

func need(data []byte, size int, what string) error {
	if len(data) < size {
		return fmt.Errorf("%w: %s needs %d bytes, have %d", ErrShortRecord, what, size, len(data))
	}
	return nil
}

// cString returns the bytes up to the first NUL, capped at len(b)-1 like a
// fixed char buffer whose last byte is forced to NUL.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b[:len(b)-1])
}
