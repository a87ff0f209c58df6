// Package monitoring exports the analyzer's throughput and table sizes as
// Prometheus metrics.
package monitoring

import (
	"net/http"
	"time"

	"npuprof/internal/analyzer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// chunksTotal counts ingested chunks by stream and result
	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "npuprof_chunks_total",
		Help: "Chunks handed to the analyzer by stream and result",
	}, []string{"stream", "result"})

	chunkBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "npuprof_chunk_bytes_total",
		Help: "Bytes handed to the analyzer by stream",
	}, []string{"stream"})

	chunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "npuprof_chunk_duration_seconds",
		Help:    "Time spent processing one chunk",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us to ~400ms
	}, []string{"stream"})

	recordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "npuprof_records_written_total",
		Help: "Op records written by sink and result",
	}, []string{"sink", "result"})

	// tableEntries is sampled from the correlation store; it only shrinks on
	// joins and on session reset
	tableEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "npuprof_table_entries",
		Help: "Entries held by each correlation table",
	}, []string{"table"})

	parserRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "npuprof_parser_records",
		Help: "Records decoded by each parser in the current process, by outcome",
	}, []string{"parser", "outcome"})

	descriptorsUploaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "npuprof_descriptors_uploaded",
		Help: "Operator descriptors uploaded by the analyzer",
	})

	joinEvents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "npuprof_join_events",
		Help: "Cumulative join statistics of the correlation store",
	}, []string{"event"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveChunk records one processed chunk.
func ObserveChunk(stream string, size int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	chunksTotal.WithLabelValues(stream, result).Inc()
	chunkBytes.WithLabelValues(stream).Add(float64(size))
	chunkDuration.WithLabelValues(stream).Observe(took.Seconds())
}

// ObserveRecordWrite records one op record written to a sink.
func ObserveRecordWrite(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	recordsWritten.WithLabelValues(sink, result).Inc()
}

// ObserveSession copies an analyzer snapshot into the gauges.
func ObserveSession(st analyzer.Stats) {
	t := st.Tables
	for table, n := range map[string]int{
		"runtime_tracks": t.RuntimeTracks,
		"parked":         t.Parked,
		"pending":        t.Pending,
		"apis":           t.APIs,
		"models":         t.Models,
		"nodes":          t.Nodes,
		"contexts":       t.Contexts,
		"graph_ops":      t.GraphOps,
		"task_infos":     t.TaskInfos,
		"streams":        t.Streams,
		"graph_ids":      t.GraphIDs,
		"descriptors":    t.Descriptors,
		"op_times":       t.OpTimes,
		"keypoints":      t.Keypoints,
		"registry":       st.Registry,
	} {
		tableEntries.WithLabelValues(table).Set(float64(n))
	}

	for _, p := range st.Parsers {
		parserRecords.WithLabelValues(p.Name, "decoded").Set(float64(p.Records))
		parserRecords.WithLabelValues(p.Name, "dropped").Set(float64(p.Dropped))
		parserRecords.WithLabelValues(p.Name, "skipped").Set(float64(p.Counters["skipped"]))
	}

	j := st.Joins
	joinEvents.WithLabelValues("merges").Set(float64(j.Merges))
	joinEvents.WithLabelValues("joins").Set(float64(j.Joins))
	joinEvents.WithLabelValues("parked").Set(float64(j.Parked))
	joinEvents.WithLabelValues("released").Set(float64(j.Released))
	joinEvents.WithLabelValues("ordering").Set(float64(j.Ordering))
	joinEvents.WithLabelValues("failed").Set(float64(j.Failed))

	descriptorsUploaded.Set(float64(st.ResultCount))
}
