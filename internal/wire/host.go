package wire

import "fmt"

// Host record sizes.
const (
	APISize            = 40
	CompactInfoSize    = 64
	AdditionalInfoSize = 256
	GeTaskDescSize     = 256
	GeIDMapSize        = 32

	headerSize = 24
)

// Header is the common prefix of compact and additional info records.
type Header struct {
	Magic     uint16
	Level     uint16
	Type      uint32
	ThreadID  uint32
	DataLen   uint32
	Timestamp uint64
}

func decodeHeader(data []byte) Header {
	return Header{
		Magic:     le.Uint16(data[0:]),
		Level:     le.Uint16(data[2:]),
		Type:      le.Uint32(data[4:]),
		ThreadID:  le.Uint32(data[8:]),
		DataLen:   le.Uint32(data[12:]),
		Timestamp: le.Uint64(data[16:]),
	}
}

// API is an API span or, when End == EventFlag, a model event.
// For events Begin holds the event timestamp and ItemID the model id.
type API struct {
	Magic    uint16
	Level    uint16
	Type     uint32
	ThreadID uint32
	Begin    uint64
	End      uint64
	ItemID   uint64
}

// IsEvent reports whether the record is an event rather than a span.
func (a API) IsEvent() bool {
	return a.End == EventFlag
}

// DecodeAPI decodes a 40-byte API/event record.
func DecodeAPI(data []byte) (API, error) {
	if err := need(data, APISize, "api"); err != nil {
		return API{}, err
	}
	a := API{
		Magic:    le.Uint16(data[0:]),
		Level:    le.Uint16(data[2:]),
		Type:     le.Uint32(data[4:]),
		ThreadID: le.Uint32(data[8:]),
		Begin:    le.Uint64(data[16:]),
		End:      le.Uint64(data[24:]),
		ItemID:   le.Uint64(data[32:]),
	}
	if a.Magic != MagicNumber {
		return a, fmt.Errorf("%w: api %#x", ErrBadMagic, a.Magic)
	}
	return a, nil
}

// NodeBasicInfo is the payload of a node-level compact record (packed layout).
type NodeBasicInfo struct {
	Header
	OpNameHash uint64
	TaskType   uint32
	OpTypeHash uint64
	BlockDim   uint32
	OpFlag     uint32
}

// RuntimeTrackInfo is the payload of a runtime-level compact record.
type RuntimeTrackInfo struct {
	Header
	DeviceID   uint16
	StreamID   uint16
	TaskID     uint32
	TaskType   uint64
	KernelName uint64
}

// DecodeCompactHeader decodes and checks the header of a 64-byte compact record.
func DecodeCompactHeader(data []byte) (Header, error) {
	if err := need(data, CompactInfoSize, "compact info"); err != nil {
		return Header{}, err
	}
	h := decodeHeader(data)
	if h.Magic != MagicNumber {
		return h, fmt.Errorf("%w: compact info %#x", ErrBadMagic, h.Magic)
	}
	return h, nil
}

// DecodeNodeBasicInfo decodes a compact record carrying node basic info.
func DecodeNodeBasicInfo(data []byte) (NodeBasicInfo, error) {
	h, err := DecodeCompactHeader(data)
	if err != nil {
		return NodeBasicInfo{}, err
	}
	p := data[headerSize:]
	return NodeBasicInfo{
		Header:     h,
		OpNameHash: le.Uint64(p[0:]),
		TaskType:   le.Uint32(p[8:]),
		OpTypeHash: le.Uint64(p[12:]),
		BlockDim:   le.Uint32(p[20:]),
		OpFlag:     le.Uint32(p[24:]),
	}, nil
}

// DecodeRuntimeTrack decodes a compact record carrying a runtime task track.
func DecodeRuntimeTrack(data []byte) (RuntimeTrackInfo, error) {
	h, err := DecodeCompactHeader(data)
	if err != nil {
		return RuntimeTrackInfo{}, err
	}
	p := data[headerSize:]
	return RuntimeTrackInfo{
		Header:     h,
		DeviceID:   le.Uint16(p[0:]),
		StreamID:   le.Uint16(p[2:]),
		TaskID:     le.Uint32(p[4:]),
		TaskType:   le.Uint64(p[8:]),
		KernelName: le.Uint64(p[16:]),
	}, nil
}

// ContextIDInfo is the payload of a node-level additional record.
type ContextIDInfo struct {
	Header
	OpNameHash uint64
	CtxIDNum   uint32
	CtxIDs     []uint32
}

// GraphIDInfo is the payload of a model-level additional record.
type GraphIDInfo struct {
	Header
	ModelName uint64
	GraphID   uint32
	ModelID   uint32
}

const maxCtxIDs = 55

// DecodeAdditionalHeader decodes and checks the header of a 256-byte additional record.
func DecodeAdditionalHeader(data []byte) (Header, error) {
	if err := need(data, AdditionalInfoSize, "additional info"); err != nil {
		return Header{}, err
	}
	h := decodeHeader(data)
	if h.Magic != MagicNumber {
		return h, fmt.Errorf("%w: additional info %#x", ErrBadMagic, h.Magic)
	}
	return h, nil
}

// DecodeContextIDInfo decodes an additional record carrying context ids.
func DecodeContextIDInfo(data []byte) (ContextIDInfo, error) {
	h, err := DecodeAdditionalHeader(data)
	if err != nil {
		return ContextIDInfo{}, err
	}
	p := data[headerSize:]
	info := ContextIDInfo{
		Header:     h,
		OpNameHash: le.Uint64(p[0:]),
		CtxIDNum:   le.Uint32(p[8:]),
	}
	if info.CtxIDNum > maxCtxIDs {
		return info, fmt.Errorf("%w: context id count %d", ErrBadSize, info.CtxIDNum)
	}
	// the first slot is always meaningful, even when the producer reports no count
	info.CtxIDs = make([]uint32, max(info.CtxIDNum, 1))
	for i := range info.CtxIDs {
		info.CtxIDs[i] = le.Uint32(p[12+4*i:])
	}
	return info, nil
}

// DecodeGraphIDInfo decodes an additional record carrying a model to graph mapping.
func DecodeGraphIDInfo(data []byte) (GraphIDInfo, error) {
	h, err := DecodeAdditionalHeader(data)
	if err != nil {
		return GraphIDInfo{}, err
	}
	p := data[headerSize:]
	return GraphIDInfo{
		Header:    h,
		ModelName: le.Uint64(p[0:]),
		GraphID:   le.Uint32(p[8:]),
		ModelID:   le.Uint32(p[12:]),
	}, nil
}

// Graph task descriptor tags and mix data kinds.
const (
	GeTagTask  uint16 = 23
	GeTagIDMap uint16 = 26

	MixDataHash   uint8 = 0
	MixDataString uint8 = 1

	opNameStrLen = 120
	opTypeStrLen = 56
)

// MixData is either a hash id or an inline string.
type MixData struct {
	Kind   uint8
	HashID uint64
	Str    string
}

// IsString reports whether the value is carried inline.
func (m MixData) IsString() bool {
	return m.Kind == MixDataString
}

// GeTaskDesc is one graph task descriptor.
type GeTaskDesc struct {
	Magic      uint16
	DataTag    uint16
	TaskType   uint32
	OpName     MixData
	OpType     MixData
	CurIterNum uint64
	Timestamp  uint64
	ShapeType  uint32
	BlockDims  uint32
	ModelID    uint32
	StreamID   uint32
	TaskID     uint32
	ThreadID   uint32
	ContextID  uint32
}

func decodeMix(data []byte, strLen int) MixData {
	m := MixData{Kind: data[0]}
	if m.Kind == MixDataString {
		m.Str = cString(data[8 : 8+strLen])
	} else {
		m.HashID = le.Uint64(data[8:])
	}
	return m
}

// DecodeGeTaskDesc decodes a 256-byte task descriptor and checks its magic, tag and mix kinds.
func DecodeGeTaskDesc(data []byte) (GeTaskDesc, error) {
	if err := need(data, GeTaskDescSize, "ge task desc"); err != nil {
		return GeTaskDesc{}, err
	}
	d := GeTaskDesc{
		Magic:    le.Uint16(data[0:]),
		DataTag:  le.Uint16(data[2:]),
		TaskType: le.Uint32(data[4:]),
	}
	if d.Magic != MagicNumber {
		return d, fmt.Errorf("%w: ge task desc %#x", ErrBadMagic, d.Magic)
	}
	if d.DataTag != GeTagTask {
		return d, fmt.Errorf("%w: ge task desc tag %d", ErrBadTag, d.DataTag)
	}
	if data[8] > MixDataString || data[136] > MixDataString {
		return d, fmt.Errorf("%w: ge task desc mix kinds %d/%d", ErrBadEnum, data[8], data[136])
	}
	d.OpName = decodeMix(data[8:136], opNameStrLen)
	d.OpType = decodeMix(data[136:200], opTypeStrLen)
	d.CurIterNum = le.Uint64(data[200:])
	d.Timestamp = le.Uint64(data[208:])
	d.ShapeType = le.Uint32(data[216:])
	d.BlockDims = le.Uint32(data[220:])
	d.ModelID = le.Uint32(data[224:])
	d.StreamID = le.Uint32(data[228:])
	d.TaskID = le.Uint32(data[232:])
	d.ThreadID = le.Uint32(data[236:])
	d.ContextID = le.Uint32(data[240:])
	return d, nil
}

// GeIDMap maps a model id to its graph id.
type GeIDMap struct {
	Magic     uint16
	DataTag   uint16
	GraphID   uint32
	ModelID   uint32
	SessionID uint32
	Timestamp uint64
	Mode      uint16
}

// DecodeGeIDMap decodes a 32-byte id map record.
func DecodeGeIDMap(data []byte) (GeIDMap, error) {
	if err := need(data, GeIDMapSize, "ge id map"); err != nil {
		return GeIDMap{}, err
	}
	m := GeIDMap{
		Magic:     le.Uint16(data[0:]),
		DataTag:   le.Uint16(data[2:]),
		GraphID:   le.Uint32(data[4:]),
		ModelID:   le.Uint32(data[8:]),
		SessionID: le.Uint32(data[12:]),
		Timestamp: le.Uint64(data[16:]),
		Mode:      le.Uint16(data[24:]),
	}
	if m.Magic != MagicNumber {
		return m, fmt.Errorf("%w: ge id map %#x", ErrBadMagic, m.Magic)
	}
	if m.DataTag != GeTagIDMap {
		return m, fmt.Errorf("%w: ge id map tag %d", ErrBadTag, m.DataTag)
	}
	return m, nil
}
