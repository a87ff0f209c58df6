package constants

// Stream markers. A chunk belongs to a source when its stream name or tag
// contains the marker.
const (
	StreamAPIEvent      = "api_event"
	StreamNodeBasicInfo = "node_basic_info"
	StreamGraphIDMap    = "graph_id_map"
	StreamContextIDInfo = "context_id_info"
	StreamTaskTrack     = "task_track"
	StreamHwts          = "hwts.data"
	StreamStars         = "stars_soc.data"
	StreamTsTrack       = "ts_track.data"
	StreamIDMapInfo     = "id_map_info"
	StreamTaskDescInfo  = "task_desc_info"
	StreamHashDict      = "hash_dic"
)

// Generations of host streams.
const (
	GenerationUnaging = "unaging"
	GenerationAging   = "aging"
)

// ControlEndInfo is the control chunk that closes a profiling session.
const ControlEndInfo = "end_info"

// Platform identifiers.
const (
	PlatformDefault = "CHIP_V1_1_0"
	// PlatformContextAware correlates sub-task contexts under ffts-plus.
	PlatformContextAware = "CHIP_V4_1_0"
	// PlatformDavid produces 128-byte fast task logs keyed by task id alone.
	PlatformDavid = "CHIP_V6_1_0"
)

// Op identity of step boundary descriptors.
const (
	KeypointOpName = "keypoint_op"
	KeypointOpType = "na"
)

// FftsPlusOpType marks a graph node that switches correlation to ffts-plus mode.
const FftsPlusOpType = "FFTS_PLUS"
