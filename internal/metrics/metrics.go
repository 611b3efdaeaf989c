// Package metrics provides Prometheus metrics for the jam model server.
// It covers request handling, inference volume and latency, model reloads,
// and the scores of the latest validation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the server.
type Metrics struct {
	// HTTP
	RequestsTotal *prometheus.CounterVec // Requests by route and status code

	// Inference
	InferenceRows    prometheus.Counter   // Rows submitted for inference or validation
	RowFailures      prometheus.Counter   // Rows the model could not predict
	InferenceLatency prometheus.Histogram // Batch inference latency in seconds
	PredictionScores prometheus.Histogram // Distribution of predicted jam probabilities
	LearnedRows      prometheus.Counter   // Rows learned by an incremental model

	// Model lifecycle
	ModelLoads *prometheus.CounterVec // Model loads by result
	ModelAge   prometheus.Gauge       // Seconds since the loaded model was written

	// Validation
	ValidationAccuracy prometheus.Gauge
	ValidationRecall   prometheus.Gauge
	ValidationF1       prometheus.Gauge
	AccuracyHistogram  prometheus.Histogram
	HistoryLength      prometheus.Gauge

	// Monitoring
	DriftScore      *prometheus.GaugeVec // Latest drift score by method
	PublishFailures prometheus.Counter   // Samples that could not be handed to a sink
	ErrorsTotal     prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics on a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jamwatch_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		InferenceRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "jamwatch_inference_rows_total",
			Help: "Total number of rows submitted for prediction",
		}),
		RowFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "jamwatch_row_failures_total",
			Help: "Total number of rows the model could not predict",
		}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "jamwatch_inference_latency_seconds",
			Help:    "Batch inference latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "jamwatch_prediction_scores",
			Help:    "Distribution of predicted jam probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		LearnedRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "jamwatch_learned_rows_total",
			Help: "Total number of rows learned by an incremental model",
		}),
		ModelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jamwatch_model_loads_total",
			Help: "Total number of model loads by result",
		}, []string{"result"}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jamwatch_model_age_seconds",
			Help: "Age of the loaded model in seconds",
		}),
		ValidationAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jamwatch_validation_accuracy",
			Help: "Accuracy of the latest validation",
		}),
		ValidationRecall: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jamwatch_validation_recall",
			Help: "Recall of the latest validation",
		}),
		ValidationF1: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jamwatch_validation_f1",
			Help: "F1 score of the latest validation",
		}),
		AccuracyHistogram: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "jamwatch_validation_accuracy_distribution",
			Help:    "Distribution of validation accuracy",
			Buckets: []float64{0.5, 0.55, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
		}),
		HistoryLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "jamwatch_history_samples",
			Help: "Number of samples in the metric history",
		}),
		DriftScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jamwatch_drift_score",
			Help: "Latest prediction drift score by method",
		}, []string{"method"}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "jamwatch_publish_failures_total",
			Help: "Total number of samples a sink failed to accept",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "jamwatch_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// FailureRate returns the share of submitted rows that could not be
// predicted, read from gatherer. It is 0 before any row is seen.
func FailureRate(gatherer prometheus.Gatherer) float64 {
	var rows, failures float64

	metricFamilies, err := gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "jamwatch_inference_rows_total":
			for _, m := range mf.Metric {
				rows = m.GetCounter().GetValue()
			}
		case "jamwatch_row_failures_total":
			for _, m := range mf.Metric {
				failures = m.GetCounter().GetValue()
			}
		}
	}

	if rows == 0 {
		return 0
	}
	return failures / rows
}
