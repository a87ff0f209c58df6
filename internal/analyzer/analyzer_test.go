package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"npuprof/internal/model"
	"npuprof/internal/opdesc"
	"npuprof/internal/opregistry"
	"npuprof/internal/wire"
	"npuprof/internal/wire/wiretest"
	"npuprof/pkg/clock"
	"npuprof/pkg/config"
	"npuprof/pkg/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapLookup map[uint64]string

func (m mapLookup) Resolve(id uint64) string {
	return m[id]
}

type recorder struct {
	mu      sync.Mutex
	descs   []opdesc.ProfOpDesc
	fail     error
	flushes  int
	sessions []string
}

func (r *recorder) Upload(ctx context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if err := opdesc.Verify(data); err != nil {
		return err
	}
	d, err := opdesc.Decode(data)
	if err != nil {
		return err
	}
	r.descs = append(r.descs, d)
	r.sessions = append(r.sessions, model.SessionIDFrom(ctx))
	return nil
}

func (r *recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	r.flushes++
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []opdesc.ProfOpDesc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]opdesc.ProfOpDesc(nil), r.descs...)
}

type hashRecorder map[uint64]string

func (h hashRecorder) Register(ctx context.Context, id uint64, value string) error {
	h[id] = value
	return nil
}

const (
	apiStream      = "Framework.unaging.api_event.data"
	nodeStream     = "Framework.unaging.compact.node_basic_info.data"
	trackStream    = "Runtime.unaging.compact.task_track.data"
	taskDescStream = "Framework.task_desc_info"
	idMapStream    = "Framework.id_map_info"
)

func newAnalyzer(t *testing.T, opts Options) (*Analyzer, *recorder, *opregistry.Registry) {
	t.Helper()
	if opts.FrequencyMHz == "" {
		opts.FrequencyMHz = "1000"
	}
	if opts.Platform == "" {
		opts.Platform = constants.PlatformDefault
	}
	up := &recorder{}
	reg := opregistry.New()
	a, err := New(opts, Deps{
		Uploader: up,
		Lookup:   mapLookup{1: "conv1", 2: "Conv2D"},
		Registry: reg,
	})
	require.NoError(t, err)
	return a, up, reg
}

func chunk(name string, data []byte) *model.Chunk {
	return &model.Chunk{StreamName: name, Data: data}
}

func taskDesc(iteration uint64, modelID, streamID, taskID uint32) []byte {
	return wiretest.GeTaskDesc(wiretest.GeTask{
		OpName:     "matmul1",
		OpType:     "MatMul",
		CurIterNum: iteration,
		ModelID:    modelID,
		StreamID:   streamID,
		TaskID:     taskID,
		ContextID:  model.NoContext,
	})
}

func timeline(streamID, taskID uint16, start, end uint64) []byte {
	return wiretest.Concat(
		wiretest.TsTimeline(wire.TaskStateStart, streamID, taskID, start, 7),
		wiretest.TsTimeline(wire.TaskStateEnd, streamID, taskID, end, 7),
	)
}

// hostAndDevice feeds one API span matched to model 5 and node conv1 on
// thread 1, and a hardware scheduler task joined to it.
func hostAndDevice(t *testing.T, a *Analyzer) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.Process(ctx, chunk(apiStream, wiretest.Concat(
		wiretest.ModelEvent(1, 5, 100),
		wiretest.API(1, 200, 300),
		wiretest.ModelEvent(1, 5, 900),
	))))
	require.NoError(t, a.Process(ctx, chunk(nodeStream, wiretest.NodeBasicInfo(1, 250, 1, 2))))
	require.NoError(t, a.Process(ctx, chunk(constants.StreamHwts, wiretest.Concat(
		wiretest.HwtsLog(wire.HwtsStart, 7, 3, 1000),
		wiretest.HwtsLog(wire.HwtsEnd, 7, 3, 3000),
	))))
	require.NoError(t, a.Process(ctx, chunk(trackStream, wiretest.RuntimeTrack(1, 250, 0, 3, 7))))
}

func TestNew_InvalidFrequencyRefusesChunks(t *testing.T) {
	a, err := New(Options{FrequencyMHz: "0"}, Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, clock.ErrInvalidFrequency)
	require.NotNil(t, a)
	assert.False(t, a.Initialized())

	err = a.Process(context.Background(), chunk(constants.StreamHwts, nil))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, a.Stats().Initialized)
}

func TestProcess_JoinIsUploaded(t *testing.T) {
	a, up, reg := newAnalyzer(t, Options{DeviceID: 2})
	hostAndDevice(t, a)

	descs := up.all()
	require.Len(t, descs, 1)
	d := descs[0]
	assert.Equal(t, uint32(5), d.ModelID)
	assert.Equal(t, uint32(1), d.ThreadID)
	assert.Equal(t, uint32(2), d.DeviceID)
	assert.Equal(t, uint64(2000), d.Duration)

	name, err := reg.TakeName(d.OpIndex).Get()
	require.NoError(t, err)
	assert.Equal(t, "conv1", name)
	assert.Equal(t, uint64(1), a.ResultCount())
	assert.Zero(t, a.Stats().Tables.Descriptors)
	assert.Equal(t, []string{a.SessionID()}, up.sessions)
}

func TestProcess_RemapsModelToGraphID(t *testing.T) {
	ctx := context.Background()
	a, up, _ := newAnalyzer(t, Options{})
	require.NoError(t, a.Process(ctx, chunk(idMapStream, wiretest.GeIDMap(5, 42))))
	hostAndDevice(t, a)

	descs := up.all()
	require.Len(t, descs, 1)
	assert.Equal(t, uint32(42), descs[0].ModelID)
}

func TestProcess_GraphTypeFilterHoldsUnmappedModels(t *testing.T) {
	ctx := context.Background()
	a, up, _ := newAnalyzer(t, Options{GraphTypeFilter: true})
	hostAndDevice(t, a)

	assert.Empty(t, up.all())
	assert.Equal(t, 1, a.Stats().Tables.Descriptors)

	require.NoError(t, a.Process(ctx, chunk(idMapStream, wiretest.GeIDMap(5, 42))))
	descs := up.all()
	require.Len(t, descs, 1)
	assert.Equal(t, uint32(42), descs[0].ModelID)
	assert.Zero(t, a.Stats().Tables.Descriptors)
}

func TestProcess_UploadFailureKeepsDescriptors(t *testing.T) {
	ctx := context.Background()
	a, up, _ := newAnalyzer(t, Options{})
	up.fail = errors.New("sink down")
	hostAndDevice(t, a)

	st := a.Stats()
	assert.Equal(t, 1, st.Tables.Descriptors)
	assert.NotZero(t, st.UploadErrors)
	assert.Zero(t, a.ResultCount())

	up.mu.Lock()
	up.fail = nil
	up.mu.Unlock()
	require.NoError(t, a.Process(ctx, chunk(apiStream, nil)))
	assert.Len(t, up.all(), 1)
}

func TestProcess_NilUploaderDropsSilently(t *testing.T) {
	a, err := New(Options{FrequencyMHz: "1000"}, Deps{Lookup: mapLookup{1: "conv1", 2: "Conv2D"}})
	require.NoError(t, err)
	hostAndDevice(t, a)
	assert.Zero(t, a.ResultCount())
	assert.Zero(t, a.Stats().Tables.Descriptors)
}

func TestProcess_StaticShapeMatchesIterationZero(t *testing.T) {
	ctx := context.Background()
	a, up, reg := newAnalyzer(t, Options{Mode: ModeStaticShape})

	require.NoError(t, a.Process(ctx, chunk(constants.StreamTsTrack, timeline(2, 5, 1000, 2000))))
	assert.Empty(t, up.all())
	assert.Equal(t, 1, a.Stats().Tables.OpTimes)

	require.NoError(t, a.Process(ctx, chunk(taskDescStream, taskDesc(0, 7, 2, 5))))
	descs := up.all()
	require.Len(t, descs, 1)
	assert.Equal(t, uint32(7), descs[0].ModelID)
	assert.Equal(t, uint32(7), descs[0].ThreadID)
	assert.Equal(t, uint64(1000), descs[0].Start)
	assert.Equal(t, uint64(2000), descs[0].End)
	assert.Zero(t, a.Stats().Tables.OpTimes)
	assert.Equal(t, ModeStaticShape, a.Mode())

	typ, err := reg.TakeType(descs[0].OpIndex).Get()
	require.NoError(t, err)
	assert.Equal(t, "MatMul", typ)
}

func TestProcess_StaticShapeDropsUnknownShapeStreams(t *testing.T) {
	ctx := context.Background()
	a, up, _ := newAnalyzer(t, Options{Mode: ModeStaticShape})

	require.NoError(t, a.Process(ctx, chunk(taskDescStream, taskDesc(1, 7, 2, 5))))
	require.NoError(t, a.Process(ctx, chunk(constants.StreamTsTrack, wiretest.Concat(
		timeline(2, 5, 1000, 2000),
		timeline(3, 5, 1000, 2000),
	))))

	assert.Empty(t, up.all())
	// the op on the unclassified stream waits for its stream
	assert.Equal(t, 1, a.Stats().Tables.OpTimes)
}

func TestProcess_InfersSingleOp(t *testing.T) {
	ctx := context.Background()
	a, up, _ := newAnalyzer(t, Options{})
	require.Equal(t, ModeInvalid, a.Mode())

	require.NoError(t, a.Process(ctx, chunk(constants.StreamTsTrack, timeline(2, 5, 1000, 2000))))
	assert.Equal(t, ModeSingleOp, a.Mode())

	require.NoError(t, a.Process(ctx, chunk(taskDescStream, taskDesc(0, 7, 2, 5))))
	assert.Len(t, up.all(), 1)
}

func TestProcess_StepTrace(t *testing.T) {
	ctx := context.Background()
	a, up, reg := newAnalyzer(t, Options{})

	require.NoError(t, a.Process(ctx, chunk(constants.StreamTsTrack, wiretest.Concat(
		wiretest.TsKeypoint(wire.KeypointStart, 1, 3, 100),
		timeline(2, 5, 150, 200),
		wiretest.TsKeypoint(wire.KeypointEnd, 1, 3, 300),
	))))
	assert.Equal(t, ModeStepTrace, a.Mode())

	// the completed step is uploaded as a keypoint op right away
	descs := up.all()
	require.Len(t, descs, 1)
	kp := descs[0]
	assert.Equal(t, uint32(1), kp.ModelID)
	assert.Equal(t, uint64(100), kp.Start)
	assert.Equal(t, uint64(300), kp.End)
	name, err := reg.TakeName(kp.OpIndex).Get()
	require.NoError(t, err)
	assert.Equal(t, constants.KeypointOpName, name)

	step, ok := a.Store().Steps().Keypoint(model.KeypointKey{ModelID: 1, IndexID: 3})
	require.True(t, ok)
	assert.True(t, step.Uploaded)
	assert.Equal(t, uint64(1), step.FindSuccTimes)

	// the op time was assigned step 3 and matches the step 3 descriptor
	require.NoError(t, a.Process(ctx, chunk(taskDescStream, taskDesc(3, 8, 2, 5))))
	descs = up.all()
	require.Len(t, descs, 2)
	assert.Equal(t, uint32(8), descs[1].ModelID)
	assert.Equal(t, uint64(150), descs[1].Start)
	assert.Zero(t, a.Stats().Tables.OpTimes)
}

func TestProcess_StepTraceRejectsAmbiguousDescriptors(t *testing.T) {
	ctx := context.Background()
	a, up, _ := newAnalyzer(t, Options{})

	require.NoError(t, a.Process(ctx, chunk(taskDescStream, wiretest.Concat(
		taskDesc(0, 7, 2, 5),
		taskDesc(3, 8, 2, 5),
	))))
	require.NoError(t, a.Process(ctx, chunk(constants.StreamTsTrack, wiretest.Concat(
		wiretest.TsKeypoint(wire.KeypointStart, 1, 3, 100),
		timeline(2, 5, 150, 200),
		wiretest.TsKeypoint(wire.KeypointEnd, 1, 3, 300),
	))))

	assert.Len(t, up.all(), 1) // keypoint only
	assert.Zero(t, a.Stats().Tables.OpTimes)
}

func TestProcess_KeypointsNeedGraphIDWithFilter(t *testing.T) {
	ctx := context.Background()
	a, up, _ := newAnalyzer(t, Options{Mode: ModeStaticShape, GraphTypeFilter: true})

	require.NoError(t, a.Process(ctx, chunk(constants.StreamTsTrack, wiretest.Concat(
		wiretest.TsKeypoint(wire.KeypointStart, 1, 3, 100),
		wiretest.TsKeypoint(wire.KeypointEnd, 1, 3, 300),
	))))
	assert.Empty(t, up.all())

	require.NoError(t, a.Process(ctx, chunk(idMapStream, wiretest.GeIDMap(1, 11))))
	descs := up.all()
	require.Len(t, descs, 1)
	assert.Equal(t, uint32(11), descs[0].ModelID)
	// static shape does not keep uploaded steps
	assert.Zero(t, a.Stats().Tables.Keypoints)
}

func TestProcess_EndInfoIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newAnalyzer(t, Options{})
	require.NoError(t, a.Process(ctx, chunk(idMapStream, wiretest.GeIDMap(5, 42))))
	require.NoError(t, a.Process(ctx, chunk(constants.StreamTsTrack, timeline(2, 5, 1000, 2000))))
	require.NoError(t, a.Process(ctx, chunk(constants.StreamHwts, wiretest.HwtsLog(wire.HwtsStart, 1, 1, 10)[:20])))

	end := &model.Chunk{StreamName: constants.ControlEndInfo, Control: true}
	require.NoError(t, a.Process(ctx, end))
	first := a.Stats()
	require.NoError(t, a.Process(ctx, end))
	second := a.Stats()

	assert.Zero(t, first.Tables.GraphIDs)
	assert.Zero(t, first.Tables.OpTimes)
	assert.Zero(t, first.Tables.Parked)
	assert.Equal(t, first.Tables, second.Tables)
	for _, p := range second.Parsers {
		assert.Zero(t, p.Buffered, p.Name)
	}
	assert.Equal(t, uint64(2), second.Resets)
}

func TestProcess_UnknownStreamIsDropped(t *testing.T) {
	a, up, _ := newAnalyzer(t, Options{})
	require.NoError(t, a.Process(context.Background(), chunk("Framework.unaging.tensor_info.data", []byte{1, 2, 3})))
	assert.Equal(t, uint64(1), a.Stats().Unrouted)
	assert.Empty(t, up.all())
}

func TestProcess_HashDictionary(t *testing.T) {
	ctx := context.Background()
	reg := hashRecorder{}
	a, err := New(Options{FrequencyMHz: "1000"}, Deps{Registrar: reg})
	require.NoError(t, err)

	require.NoError(t, a.Process(ctx, chunk("hash_dic", []byte("11:conv1\n12:Con"))))
	assert.Equal(t, hashRecorder{11: "conv1"}, reg)
	require.NoError(t, a.Process(ctx, chunk("hash_dic", []byte("v2D\nbad line\n13:a:b\n"))))
	assert.Equal(t, hashRecorder{11: "conv1", 12: "Conv2D", 13: "a:b"}, reg)
	assert.Equal(t, uint64(3), a.Stats().HashEntries)
}

func TestProcess_HashDictionaryKeepsTailsPerStream(t *testing.T) {
	tests := []struct {
		name   string
		chunks []*model.Chunk
		want   hashRecorder
	}{
		{
			name: "interleaved streams",
			chunks: []*model.Chunk{
				chunk("host/hash_dic", []byte("11:conv1\n12:Con")),
				chunk("device0/hash_dic", []byte("21:relu\n")),
				chunk("host/hash_dic", []byte("v2D\n")),
			},
			want: hashRecorder{11: "conv1", 12: "Conv2D", 21: "relu"},
		},
		{
			name: "both streams split mid line",
			chunks: []*model.Chunk{
				chunk("host/hash_dic", []byte("11:ma")),
				chunk("device0/hash_dic", []byte("21:so")),
				chunk("host/hash_dic", []byte("tmul\n")),
				chunk("device0/hash_dic", []byte("ftmax\n")),
			},
			want: hashRecorder{11: "matmul", 21: "softmax"},
		},
		{
			name: "same stream name with different tags",
			chunks: []*model.Chunk{
				{StreamName: "hash_dic", Tag: "a", Data: []byte("1:x")},
				{StreamName: "hash_dic", Tag: "b", Data: []byte("2:y\n")},
				{StreamName: "hash_dic", Tag: "a", Data: []byte("z\n")},
			},
			want: hashRecorder{1: "xz", 2: "y"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			reg := hashRecorder{}
			a, err := New(Options{FrequencyMHz: "1000"}, Deps{Registrar: reg})
			require.NoError(t, err)

			for _, c := range tt.chunks {
				require.NoError(t, a.Process(ctx, c))
			}
			assert.Equal(t, tt.want, reg)
		})
	}
}

func TestProcess_EndInfoClearsHashDictionaryTails(t *testing.T) {
	ctx := context.Background()
	reg := hashRecorder{}
	a, err := New(Options{FrequencyMHz: "1000"}, Deps{Registrar: reg})
	require.NoError(t, err)

	require.NoError(t, a.Process(ctx, chunk("host/hash_dic", []byte("11:con"))))
	require.NoError(t, a.Process(ctx, chunk("device0/hash_dic", []byte("21:re"))))
	require.NoError(t, a.Process(ctx, &model.Chunk{StreamName: constants.ControlEndInfo, Control: true}))

	require.NoError(t, a.Process(ctx, chunk("host/hash_dic", []byte("12:add\n"))))
	require.NoError(t, a.Process(ctx, chunk("device0/hash_dic", []byte("22:mul\n"))))
	assert.Equal(t, hashRecorder{12: "add", 22: "mul"}, reg)
}

func TestAnalyzer_FlushAndDeviceID(t *testing.T) {
	ctx := context.Background()
	a, up, _ := newAnalyzer(t, Options{Mode: ModeStaticShape})
	a.SetDeviceID(4)

	require.NoError(t, a.Process(ctx, chunk(taskDescStream, taskDesc(0, 7, 2, 5))))
	require.NoError(t, a.Process(ctx, chunk(constants.StreamTsTrack, timeline(2, 5, 1000, 2000))))
	descs := up.all()
	require.Len(t, descs, 1)
	assert.Equal(t, uint32(4), descs[0].DeviceID)

	require.NoError(t, a.Flush(ctx))
	assert.Equal(t, 1, up.flushes)
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.AnalyzerConfig{
		FrequencyMHzValue: "1800",
		PlatformValue:     constants.PlatformContextAware,
		ProfileMode:       "step_trace",
		GraphTypeFilter:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "1800", opts.FrequencyMHz)
	assert.Equal(t, constants.PlatformContextAware, opts.Platform)
	assert.Equal(t, ModeStepTrace, opts.Mode)
	assert.True(t, opts.GraphTypeFilter)

	_, err = OptionsFromConfig(config.AnalyzerConfig{ProfileMode: "warp"})
	assert.Error(t, err)
}
