package parser

// RollBack restores the task id bits a fast task producer folds into the high
// bits of the stream id. It returns the task and stream ids to key by.
func RollBack(taskID, streamID uint16) (uint32, uint32) {
	task, stream := uint32(taskID), uint32(streamID)
	switch {
	case stream&0x1000 != 0:
		task = task&0x1FFF | stream&0xE000
		stream &= 0x0FFF
	case stream&0x3000 == 0x2000:
		task |= stream & 0xC000
		stream &= 0x0FFF
	}
	return task, stream
}
