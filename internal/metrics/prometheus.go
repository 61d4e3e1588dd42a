package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quakewatch_pipeline_runs_total",
			Help: "Total pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	GateViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quakewatch_gate_violations_total",
			Help: "Total quality gate violations observed",
		},
	)

	DatasetRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quakewatch_dataset_rows",
			Help: "Row count of the most recent feature dataset",
		},
	)

	DatasetFeatures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quakewatch_dataset_features",
			Help: "Feature count of the most recent baseline",
		},
	)

	SinkWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quakewatch_sink_writes_total",
			Help: "Sink write attempts by sink and status",
		},
		[]string{"sink", "status"},
	)

	PipelinePersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quakewatch_persist_failures_total",
			Help: "Runs where every configured sink failed",
		},
	)

	RequestsScored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quakewatch_requests_scored_total",
			Help: "Total inference requests scored against the baseline",
		},
	)

	RequestsFlagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quakewatch_requests_flagged_total",
			Help: "Scored requests flagged out-of-distribution",
		},
	)

	ScoringRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quakewatch_scoring_rejections_total",
			Help: "Requests rejected for malformed feature vectors",
		},
	)

	DriftRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quakewatch_drift_ratio",
			Help: "Fraction of recent requests with out-of-distribution features",
		},
	)

	InferenceLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quakewatch_inference_latency_ms",
			Help:    "Drift scoring latency in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 200, 500, 1000},
		},
	)
)

func Init() {
	prometheus.MustRegister(PipelineRuns)
	prometheus.MustRegister(GateViolations)
	prometheus.MustRegister(DatasetRows)
	prometheus.MustRegister(DatasetFeatures)
	prometheus.MustRegister(SinkWrites)
	prometheus.MustRegister(PipelinePersistFailures)
	prometheus.MustRegister(RequestsScored)
	prometheus.MustRegister(RequestsFlagged)
	prometheus.MustRegister(ScoringRejections)
	prometheus.MustRegister(DriftRatio)
	prometheus.MustRegister(InferenceLatency)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
