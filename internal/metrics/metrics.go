// Package metrics exposes pipeline counters and latency histograms. The
// pipeline emits; scraping and alerting happen elsewhere.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	documentsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_documents_processed_total",
		Help: "Documents that reached a terminal status",
	}, []string{"status"})

	chunksGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_chunks_generated_total",
		Help: "Chunks produced by the chunker",
	})

	redactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_redactions_total",
		Help: "PII redactions applied, by type",
	}, []string{"type"})

	stageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_stage_latency_ms",
		Help:    "Latency of each ingestion stage in milliseconds",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
	}, []string{"stage"})

	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Pipeline errors by stage and kind",
	}, []string{"stage", "kind"})

	deadLetterDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_dead_letter_depth",
		Help: "Entries currently on the dead-letter queue",
	})

	queryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "query_latency_ms",
		Help:    "End-to-end query turn latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
	})

	retrievalResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "query_retrieval_results",
		Help:    "Number of chunks returned per retrieval",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
	})
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(documentsProcessed, chunksGenerated, redactions,
			stageLatency, errorsTotal, deadLetterDepth, queryLatency, retrievalResults)
	})
}

// IncDocumentProcessed records a document reaching a terminal status.
func IncDocumentProcessed(status string) {
	ensureRegistered()
	documentsProcessed.WithLabelValues(status).Inc()
}

// AddChunks records chunker output volume.
func AddChunks(n int) {
	ensureRegistered()
	chunksGenerated.Add(float64(n))
}

// AddRedactions records sanitizer redaction counts by PII type.
func AddRedactions(counts map[string]int) {
	ensureRegistered()
	for typ, n := range counts {
		redactions.WithLabelValues(typ).Add(float64(n))
	}
}

// ObserveStage records one stage execution's latency.
func ObserveStage(stage string, start time.Time) {
	ensureRegistered()
	stageLatency.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))
}

// IncError counts a pipeline error by stage and kind.
func IncError(stage, kind string) {
	ensureRegistered()
	errorsTotal.WithLabelValues(stage, kind).Inc()
}

// SetDeadLetterDepth publishes the current queue depth.
func SetDeadLetterDepth(n int) {
	ensureRegistered()
	deadLetterDepth.Set(float64(n))
}

// ObserveQuery records one query turn.
func ObserveQuery(start time.Time, results int) {
	ensureRegistered()
	queryLatency.Observe(float64(time.Since(start).Milliseconds()))
	retrievalResults.Observe(float64(results))
}

// Handler serves the scrape endpoint.
func Handler() http.Handler {
	ensureRegistered()
	return promhttp.Handler()
}
