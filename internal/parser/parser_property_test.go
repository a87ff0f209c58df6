package parser

import (
	"context"
	"sort"
	"testing"

	"npuprof/internal/correlation"
	"npuprof/internal/wire"
	"npuprof/internal/wire/wiretest"
	"npuprof/pkg/clock"
	"npuprof/pkg/constants"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func splitAt(stream []byte, cuts []int) [][]byte {
	points := make([]int, 0, len(cuts))
	for _, c := range cuts {
		if c > 0 && c < len(stream) {
			points = append(points, c)
		}
	}
	sort.Ints(points)

	var chunks [][]byte
	prev := 0
	for _, p := range points {
		chunks = append(chunks, stream[prev:p])
		prev = p
	}
	return append(chunks, stream[prev:])
}

// TestProperty_ChunkSplitsDoNotChangeResults tests parsing across chunk boundaries.
//
// Property: For any number of device tasks and any split of their encoded
// stream into chunks, every task reaches the store and nothing stays buffered.
func TestProperty_ChunkSplitsDoNotChangeResults(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 30

	properties := gopter.NewProperties(parameters)
	clk, _ := clock.New("1000")

	properties.Property("hwts tasks survive any split", prop.ForAll(
		func(n int, cuts []int) bool {
			var records [][]byte
			for i := 0; i < n; i++ {
				task := uint16(i)
				records = append(records,
					wiretest.HwtsLog(wire.HwtsStart, task, 1, uint64(100*i+1)),
					wiretest.HwtsLog(wire.HwtsEnd, task, 1, uint64(100*i+50)),
				)
			}
			stream := wiretest.Concat(records...)

			store := correlation.New(correlation.Options{})
			p, err := NewHwSchedulerParser(Options{Store: store, Clock: clk})
			if err != nil {
				return false
			}
			for _, c := range splitAt(stream, cuts) {
				if err := p.Parse(context.Background(), chunk(constants.StreamHwts, c)); err != nil {
					return false
				}
			}
			st := p.Stats()
			return store.Sizes().Parked == n && st.Buffered == 0 && st.Dropped == 0 &&
				st.AnalyzedBytes == uint64(len(stream))
		},
		gen.IntRange(0, 20),
		gen.SliceOf(gen.IntRange(0, 20*2*wire.HwtsLogSize)),
	))

	properties.Property("ts keypoints survive any split", prop.ForAll(
		func(n int, cuts []int) bool {
			var records [][]byte
			for i := 0; i < n; i++ {
				idx := uint64(i + 1)
				records = append(records,
					wiretest.TsKeypoint(wire.KeypointStart, 1, idx, 100*idx),
					wiretest.TsTimeline(wire.TaskStateStart, 1, uint16(i), 100*idx+10, 1),
					wiretest.TsTimeline(wire.TaskStateEnd, 1, uint16(i), 100*idx+20, 1),
					wiretest.TsKeypoint(wire.KeypointEnd, 1, idx, 100*idx+50),
				)
			}
			stream := wiretest.Concat(records...)

			store := correlation.New(correlation.Options{})
			p, err := NewTaskSchedulerParser(Options{Store: store, Clock: clk})
			if err != nil {
				return false
			}
			for _, c := range splitAt(stream, cuts) {
				if err := p.Parse(context.Background(), chunk(constants.StreamTsTrack, c)); err != nil {
					return false
				}
			}
			ops, kps := store.Steps().Len()
			st := p.Stats()
			return ops == n && kps == n && st.Buffered == 0 && st.Dropped == 0
		},
		gen.IntRange(0, 10),
		gen.SliceOf(gen.IntRange(0, 10*144)),
	))

	properties.TestingRun(t)
}
