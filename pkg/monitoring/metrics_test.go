package monitoring

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"npuprof/internal/analyzer"
	"npuprof/internal/correlation"
	"npuprof/internal/parser"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveChunk(t *testing.T) {
	before := testutil.ToFloat64(chunksTotal.WithLabelValues("hwts.data", "error"))
	ObserveChunk("hwts.data", 128, time.Millisecond, nil)
	ObserveChunk("hwts.data", 64, time.Millisecond, errors.New("overflow"))

	assert.Equal(t, before+1, testutil.ToFloat64(chunksTotal.WithLabelValues("hwts.data", "error")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(chunkBytes.WithLabelValues("hwts.data")), 192.0)
}

func TestObserveSession(t *testing.T) {
	ObserveSession(analyzer.Stats{
		ResultCount: 12,
		Registry:    3,
		Tables:      correlation.Sizes{Parked: 4, Pending: 2},
		Joins:       correlation.Counters{Joins: 9},
		Parsers:     []parser.Stats{{Name: "hwts", Records: 10, Dropped: 1, Counters: map[string]uint64{"skipped": 2}}},
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(tableEntries.WithLabelValues("parked")))
	assert.Equal(t, 2.0, testutil.ToFloat64(tableEntries.WithLabelValues("pending")))
	assert.Equal(t, 3.0, testutil.ToFloat64(tableEntries.WithLabelValues("registry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(parserRecords.WithLabelValues("hwts", "dropped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(parserRecords.WithLabelValues("hwts", "skipped")))
	assert.Equal(t, 9.0, testutil.ToFloat64(joinEvents.WithLabelValues("joins")))
	assert.Equal(t, 12.0, testutil.ToFloat64(descriptorsUploaded))
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveRecordWrite("redis", nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "npuprof_records_written_total"))
}
