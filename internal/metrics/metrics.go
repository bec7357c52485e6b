// Package metrics exposes load and predict measurements as Prometheus metrics.
//
// Metrics implements fil.MetricsCollector; pass it with fil.WithMetrics and
// serve Handler on an HTTP endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fil"

// Metrics holds the Prometheus collectors of one process.
type Metrics struct {
	ModelsLoaded   *prometheus.CounterVec   // models loaded, by model type
	LoadDuration   *prometheus.HistogramVec // import plus build time, by model type
	ForestTrees    prometheus.Gauge         // trees of the most recently loaded model
	PredictCalls   *prometheus.CounterVec   // predict calls, by algorithm and outcome
	PredictRows    *prometheus.CounterVec   // rows scored, by algorithm
	PredictLatency *prometheus.HistogramVec // whole-call latency, by algorithm
	ChunkLatency   *prometheus.HistogramVec // per-chunk latency, by algorithm
	RowsPerSecond  *prometheus.GaugeVec     // throughput of the last successful call

	gatherer prometheus.Gatherer
}

// New registers the collectors on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on registerer. When registerer is
// also a Gatherer, Handler serves it; otherwise Handler serves the default
// gatherer.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := &Metrics{
		ModelsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "models_loaded_total",
			Help:      "Total number of models loaded",
		}, []string{"model_type"}),
		LoadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Time to import a model and build its forest",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"model_type"}),
		ForestTrees: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forest_trees",
			Help:      "Number of trees in the most recently loaded forest",
		}),
		PredictCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predict_calls_total",
			Help:      "Total number of predict calls",
		}, []string{"algorithm", "outcome"}),
		PredictRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predict_rows_total",
			Help:      "Total number of rows scored by successful predict calls",
		}, []string{"algorithm"}),
		PredictLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predict_latency_seconds",
			Help:      "Predict call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"algorithm"}),
		ChunkLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_latency_seconds",
			Help:      "Latency of scoring one chunk in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"algorithm"}),
		RowsPerSecond: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "predict_rows_per_second",
			Help:      "Throughput of the last successful predict call",
		}, []string{"algorithm"}),
		gatherer: prometheus.DefaultGatherer,
	}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveLoad records a completed model load.
func (m *Metrics) ObserveLoad(modelType string, trees int, d time.Duration) {
	m.ModelsLoaded.WithLabelValues(modelType).Inc()
	m.LoadDuration.WithLabelValues(modelType).Observe(d.Seconds())
	m.ForestTrees.Set(float64(trees))
}

// ObservePredict records a predict call. Failed calls only count towards
// the error outcome.
func (m *Metrics) ObservePredict(algorithm string, rows int, d time.Duration, err error) {
	if err != nil {
		m.PredictCalls.WithLabelValues(algorithm, "error").Inc()
		return
	}
	m.PredictCalls.WithLabelValues(algorithm, "ok").Inc()
	m.PredictRows.WithLabelValues(algorithm).Add(float64(rows))
	m.PredictLatency.WithLabelValues(algorithm).Observe(d.Seconds())
	if s := d.Seconds(); s > 0 {
		m.RowsPerSecond.WithLabelValues(algorithm).Set(float64(rows) / s)
	}
}

// ObserveChunk records one scored chunk.
func (m *Metrics) ObserveChunk(algorithm string, _ int, d time.Duration) {
	m.ChunkLatency.WithLabelValues(algorithm).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
