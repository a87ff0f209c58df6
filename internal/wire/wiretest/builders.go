// Package wiretest builds encoded profiling records for tests.
package wiretest

import (
	"encoding/binary"

	"npuprof/internal/wire"
)

var le = binary.LittleEndian

func header(buf []byte, level uint16, typ, threadID uint32, ts uint64) {
	le.PutUint16(buf[0:], wire.MagicNumber)
	le.PutUint16(buf[2:], level)
	le.PutUint32(buf[4:], typ)
	le.PutUint32(buf[8:], threadID)
	le.PutUint64(buf[16:], ts)
}

// API encodes an API span on a thread.
func API(threadID uint32, begin, end uint64) []byte {
	buf := make([]byte, wire.APISize)
	le.PutUint16(buf[0:], wire.MagicNumber)
	le.PutUint16(buf[2:], wire.LevelNode)
	le.PutUint32(buf[4:], wire.TypeNodeLaunch)
	le.PutUint32(buf[8:], threadID)
	le.PutUint64(buf[16:], begin)
	le.PutUint64(buf[24:], end)
	return buf
}

// ModelEvent encodes a model load event (start or end, paired by the reader).
func ModelEvent(threadID uint32, modelID, ts uint64) []byte {
	buf := make([]byte, wire.APISize)
	le.PutUint16(buf[0:], wire.MagicNumber)
	le.PutUint16(buf[2:], wire.LevelModel)
	le.PutUint32(buf[4:], wire.TypeModelLoad)
	le.PutUint32(buf[8:], threadID)
	le.PutUint64(buf[16:], ts)
	le.PutUint64(buf[24:], wire.EventFlag)
	le.PutUint64(buf[32:], modelID)
	return buf
}

// NodeBasicInfo encodes a node-level compact record.
func NodeBasicInfo(threadID uint32, ts, nameHash, typeHash uint64) []byte {
	buf := make([]byte, wire.CompactInfoSize)
	header(buf, wire.LevelNode, 0, threadID, ts)
	le.PutUint64(buf[24:], nameHash)
	le.PutUint64(buf[36:], typeHash)
	return buf
}

// RuntimeTrack encodes a runtime-level compact record.
func RuntimeTrack(threadID uint32, ts uint64, deviceID, streamID uint16, taskID uint32) []byte {
	buf := make([]byte, wire.CompactInfoSize)
	header(buf, wire.LevelRuntime, 0, threadID, ts)
	le.PutUint16(buf[24:], deviceID)
	le.PutUint16(buf[26:], streamID)
	le.PutUint32(buf[28:], taskID)
	return buf
}

// ContextIDInfo encodes a node-level additional record with one context id.
func ContextIDInfo(threadID uint32, ts, nameHash uint64, ctxID uint32) []byte {
	buf := make([]byte, wire.AdditionalInfoSize)
	header(buf, wire.LevelNode, wire.TypeContextIDInfo, threadID, ts)
	le.PutUint64(buf[24:], nameHash)
	le.PutUint32(buf[32:], 1)
	le.PutUint32(buf[36:], ctxID)
	return buf
}

// GraphIDInfo encodes a model-level additional record mapping modelID to graphID.
func GraphIDInfo(modelID, graphID uint32) []byte {
	buf := make([]byte, wire.AdditionalInfoSize)
	header(buf, wire.LevelModel, 0, 0, 0)
	le.PutUint32(buf[32:], graphID)
	le.PutUint32(buf[36:], modelID)
	return buf
}

// GeTask describes a graph task descriptor to encode.
type GeTask struct {
	OpName     string
	OpType     string
	NameHash   uint64 // used when OpName is empty
	TypeHash   uint64 // used when OpType is empty
	CurIterNum uint64
	ModelID    uint32
	StreamID   uint32
	TaskID     uint32
	ContextID  uint32
}

// GeTaskDesc encodes a 256-byte graph task descriptor.
func GeTaskDesc(t GeTask) []byte {
	buf := make([]byte, wire.GeTaskDescSize)
	le.PutUint16(buf[0:], wire.MagicNumber)
	le.PutUint16(buf[2:], wire.GeTagTask)
	if t.OpName != "" {
		buf[8] = wire.MixDataString
		copy(buf[16:136], t.OpName)
	} else {
		le.PutUint64(buf[16:], t.NameHash)
	}
	if t.OpType != "" {
		buf[136] = wire.MixDataString
		copy(buf[144:200], t.OpType)
	} else {
		le.PutUint64(buf[144:], t.TypeHash)
	}
	le.PutUint64(buf[200:], t.CurIterNum)
	le.PutUint32(buf[224:], t.ModelID)
	le.PutUint32(buf[228:], t.StreamID)
	le.PutUint32(buf[232:], t.TaskID)
	le.PutUint32(buf[240:], t.ContextID)
	return buf
}

// GeIDMap encodes a 32-byte id map record.
func GeIDMap(modelID, graphID uint32) []byte {
	buf := make([]byte, wire.GeIDMapSize)
	le.PutUint16(buf[0:], wire.MagicNumber)
	le.PutUint16(buf[2:], wire.GeTagIDMap)
	le.PutUint32(buf[4:], graphID)
	le.PutUint32(buf[8:], modelID)
	return buf
}

// HwtsLog encodes a hardware scheduler record.
func HwtsLog(typ uint8, taskID, streamID uint16, sysCnt uint64) []byte {
	buf := make([]byte, wire.HwtsLogSize)
	buf[0] = typ & 0x7
	le.PutUint16(buf[4:], taskID)
	le.PutUint16(buf[6:], streamID)
	le.PutUint64(buf[8:], sysCnt)
	return buf
}

func tsHeader(buf []byte, rptType uint8) {
	buf[1] = rptType
	le.PutUint16(buf[2:], uint16(len(buf)))
}

// TsTimeline encodes a task scheduler timeline report.
func TsTimeline(state, streamID, taskID uint16, cycles uint64, threadID uint32) []byte {
	buf := make([]byte, wire.TsTimelineLen)
	tsHeader(buf, wire.TsReportTimeline)
	le.PutUint16(buf[10:], state)
	le.PutUint16(buf[12:], streamID)
	le.PutUint16(buf[14:], taskID)
	le.PutUint64(buf[16:], cycles)
	le.PutUint32(buf[24:], threadID)
	return buf
}

// TsKeypoint encodes a step boundary report.
func TsKeypoint(tag uint16, modelID, indexID, cycles uint64) []byte {
	buf := make([]byte, wire.TsKeypointLen)
	tsHeader(buf, wire.TsReportKeypoint)
	le.PutUint64(buf[8:], cycles)
	le.PutUint64(buf[16:], indexID)
	le.PutUint64(buf[24:], modelID)
	le.PutUint16(buf[36:], tag)
	return buf
}

// TsTaskFlip encodes a task id flip report.
func TsTaskFlip(streamID, flipNum, taskID uint16) []byte {
	buf := make([]byte, wire.TsTaskFlipLen)
	tsHeader(buf, wire.TsReportTaskFlip)
	le.PutUint16(buf[16:], streamID)
	le.PutUint16(buf[18:], flipNum)
	le.PutUint16(buf[20:], taskID)
	return buf
}

// StarsLog encodes a fast task record of the given size.
func StarsLog(size int, logType, streamID, taskID uint16, cycles uint64, ctxID, threadID uint16) []byte {
	buf := make([]byte, size)
	le.PutUint16(buf[0:], logType&0x3FF)
	le.PutUint16(buf[4:], streamID)
	le.PutUint16(buf[6:], taskID)
	le.PutUint32(buf[8:], uint32(cycles))
	le.PutUint32(buf[12:], uint32(cycles>>32))
	le.PutUint16(buf[16:], ctxID)
	le.PutUint16(buf[18:], threadID)
	return buf
}

// Concat joins encoded records into one stream.
func Concat(records ...[]byte) []byte {
	var out []byte
	for _, r := range records {
		out = append(out, r...)
	}
	return out
}
