// Package metrics records prediction, optimization and fetch metrics with
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns its own registry so several recorders can coexist in tests.
type Recorder struct {
	registry *prometheus.Registry

	predictions      *prometheus.CounterVec
	confidence       prometheus.Histogram
	signalFailures   *prometheus.CounterVec
	optimizerRuns    *prometheus.CounterVec
	optimizerFitness prometheus.Gauge
	fetches          *prometheus.CounterVec
	latency          *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		predictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartseer_predictions_total",
				Help: "Total number of predictions by direction",
			},
			[]string{"direction"},
		),
		confidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chartseer_prediction_confidence",
				Help:    "Distribution of prediction confidence",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		signalFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartseer_signal_failures_total",
				Help: "Signals that degraded to their neutral default",
			},
			[]string{"signal"},
		),
		optimizerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartseer_optimizer_runs_total",
				Help: "Weight optimization runs by result",
			},
			[]string{"result"},
		),
		optimizerFitness: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chartseer_optimizer_fitness",
				Help: "Fitness of the current best weight vector",
			},
		),
		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartseer_fetches_total",
				Help: "Series fetches by provider and status",
			},
			[]string{"provider", "status"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chartseer_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// Registry exposes the recorder's registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordPrediction records one prediction.
func (r *Recorder) RecordPrediction(direction string, confidence float64) {
	r.predictions.WithLabelValues(direction).Inc()
	r.confidence.Observe(confidence)
}

// RecordSignalFailure records a signal that fell back to its default.
func (r *Recorder) RecordSignalFailure(signal string) {
	r.signalFailures.WithLabelValues(signal).Inc()
}

// RecordOptimization records an optimizer run.
func (r *Recorder) RecordOptimization(improved bool, fitness float64) {
	result := "unchanged"
	if improved {
		result = "improved"
		r.optimizerFitness.Set(fitness)
	}
	r.optimizerRuns.WithLabelValues(result).Inc()
}

// RecordFetch records a fetch attempt against a provider.
func (r *Recorder) RecordFetch(provider string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.fetches.WithLabelValues(provider, status).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// WriteTextfile writes the current metrics in the text exposition format,
// for the node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
