package wire

import "fmt"

// Device record sizes.
const (
	HwtsLogSize   = 64
	StarsLogSize  = 64
	DavidLogSize  = 128
	TsHeaderSize  = 8
	TsTimelineLen = 32
	TsKeypointLen = 40
	TsTaskFlipLen = 24
)

// HWTS log types (low 3 bits of the first byte).
const (
	HwtsStart uint8 = 0
	HwtsEnd   uint8 = 1
)

// HwtsLog is a 64-byte hardware task scheduler record.
type HwtsLog struct {
	Type     uint8
	CoreID   uint8
	BlockID  uint16
	TaskID   uint16
	StreamID uint16
	SysCnt   uint64
}

// DecodeHwtsLog decodes one hardware task scheduler record.
func DecodeHwtsLog(data []byte) (HwtsLog, error) {
	if err := need(data, HwtsLogSize, "hwts log"); err != nil {
		return HwtsLog{}, err
	}
	return HwtsLog{
		Type:     data[0] & 0x7,
		CoreID:   data[1],
		BlockID:  le.Uint16(data[2:]),
		TaskID:   le.Uint16(data[4:]),
		StreamID: le.Uint16(data[6:]),
		SysCnt:   le.Uint64(data[8:]),
	}, nil
}

// Task scheduler report types.
const (
	TsReportTimeline uint8 = 3
	TsReportKeypoint uint8 = 10
	TsReportTaskFlip uint8 = 14
)

// Task states of a timeline report.
const (
	TaskStateStart       uint16 = 1
	TaskStateAicoreStart uint16 = 2
	TaskStateAicoreEnd   uint16 = 3
	TaskStateEnd         uint16 = 4
)

// Keypoint tags.
const (
	KeypointStart uint16 = 0
	KeypointEnd   uint16 = 1
)

// TsHeader prefixes every task scheduler report and declares its size.
type TsHeader struct {
	Mode    uint8
	RptType uint8
	BufSize uint16
}

// DecodeTsHeader decodes the 8-byte header. A declared size smaller than the
// header cannot advance the stream and is reported as ErrBadSize.
func DecodeTsHeader(data []byte) (TsHeader, error) {
	if err := need(data, TsHeaderSize, "ts header"); err != nil {
		return TsHeader{}, err
	}
	h := TsHeader{
		Mode:    data[0],
		RptType: data[1],
		BufSize: le.Uint16(data[2:]),
	}
	if int(h.BufSize) < TsHeaderSize {
		return h, fmt.Errorf("%w: ts report declares %d bytes", ErrBadSize, h.BufSize)
	}
	return h, nil
}

// TsTimelineReport is a task state change.
type TsTimelineReport struct {
	TsHeader
	TaskType  uint16
	TaskState uint16
	StreamID  uint16
	TaskID    uint16
	Timestamp uint64
	ThreadID  uint32
	DeviceID  uint32
}

// DecodeTsTimeline decodes a timeline report.
func DecodeTsTimeline(data []byte) (TsTimelineReport, error) {
	h, err := DecodeTsHeader(data)
	if err != nil {
		return TsTimelineReport{}, err
	}
	if err := need(data, TsTimelineLen, "ts timeline"); err != nil {
		return TsTimelineReport{}, err
	}
	r := TsTimelineReport{
		TsHeader:  h,
		TaskType:  le.Uint16(data[8:]),
		TaskState: le.Uint16(data[10:]),
		StreamID:  le.Uint16(data[12:]),
		TaskID:    le.Uint16(data[14:]),
		Timestamp: le.Uint64(data[16:]),
		ThreadID:  le.Uint32(data[24:]),
		DeviceID:  le.Uint32(data[28:]),
	}
	if r.TaskState < TaskStateStart || r.TaskState > TaskStateEnd {
		return r, fmt.Errorf("%w: task state %d", ErrBadEnum, r.TaskState)
	}
	return r, nil
}

// TsKeypointReport is a step boundary marker.
type TsKeypointReport struct {
	TsHeader
	Timestamp uint64
	IndexID   uint64
	ModelID   uint64
	StreamID  uint16
	TaskID    uint16
	TagID     uint16
}

// DecodeTsKeypoint decodes a keypoint report.
func DecodeTsKeypoint(data []byte) (TsKeypointReport, error) {
	h, err := DecodeTsHeader(data)
	if err != nil {
		return TsKeypointReport{}, err
	}
	if err := need(data, TsKeypointLen, "ts keypoint"); err != nil {
		return TsKeypointReport{}, err
	}
	r := TsKeypointReport{
		TsHeader:  h,
		Timestamp: le.Uint64(data[8:]),
		IndexID:   le.Uint64(data[16:]),
		ModelID:   le.Uint64(data[24:]),
		StreamID:  le.Uint16(data[32:]),
		TaskID:    le.Uint16(data[34:]),
		TagID:     le.Uint16(data[36:]),
	}
	if r.TagID != KeypointStart && r.TagID != KeypointEnd {
		return r, fmt.Errorf("%w: keypoint tag %d", ErrBadEnum, r.TagID)
	}
	return r, nil
}

// TsTaskFlipReport reports a wrap of the 16-bit task id counter of a stream.
type TsTaskFlipReport struct {
	TsHeader
	Timestamp uint64
	StreamID  uint16
	FlipNum   uint16
	TaskID    uint16
}

// DecodeTsTaskFlip decodes a task flip report.
func DecodeTsTaskFlip(data []byte) (TsTaskFlipReport, error) {
	h, err := DecodeTsHeader(data)
	if err != nil {
		return TsTaskFlipReport{}, err
	}
	if err := need(data, TsTaskFlipLen, "ts task flip"); err != nil {
		return TsTaskFlipReport{}, err
	}
	return TsTaskFlipReport{
		TsHeader:  h,
		Timestamp: le.Uint64(data[8:]),
		StreamID:  le.Uint16(data[16:]),
		FlipNum:   le.Uint16(data[18:]),
		TaskID:    le.Uint16(data[20:]),
	}, nil
}

// Fast task log types (low 10 bits of the first word).
const (
	StarsAcsqStart    uint16 = 0
	StarsAcsqEnd      uint16 = 1
	StarsSubtaskStart uint16 = 34
	StarsSubtaskEnd   uint16 = 35
)

// StarsLog is a task-queue or sub-task log record. ContextID and ThreadID are
// only meaningful for sub-task records.
type StarsLog struct {
	LogType   uint16
	StreamID  uint16
	TaskID    uint16
	SysCnt    uint64
	ContextID uint16
	ThreadID  uint16
}

// IsSubtask reports whether the record belongs to a sub-task context.
func (s StarsLog) IsSubtask() bool {
	return s.LogType == StarsSubtaskStart || s.LogType == StarsSubtaskEnd
}

// IsStart reports whether the record opens a task or sub-task.
func (s StarsLog) IsStart() bool {
	return s.LogType == StarsAcsqStart || s.LogType == StarsSubtaskStart
}

// IsEnd reports whether the record closes a task or sub-task.
func (s StarsLog) IsEnd() bool {
	return s.LogType == StarsAcsqEnd || s.LogType == StarsSubtaskEnd
}

// DecodeStarsLog decodes a record of the given fixed size (StarsLogSize or DavidLogSize).
func DecodeStarsLog(data []byte, size int) (StarsLog, error) {
	if err := need(data, size, "stars log"); err != nil {
		return StarsLog{}, err
	}
	low := uint64(le.Uint32(data[8:]))
	high := uint64(le.Uint32(data[12:]))
	s := StarsLog{
		LogType:  le.Uint16(data[0:]) & 0x3FF,
		StreamID: le.Uint16(data[4:]),
		TaskID:   le.Uint16(data[6:]),
		SysCnt:   high<<32 | low,
	}
	if s.IsSubtask() {
		s.ContextID = le.Uint16(data[16:])
		s.ThreadID = le.Uint16(data[18:])
	}
	return s, nil
}
