package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Turn metrics
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_turns_total",
			Help: "Total number of completed turns",
		},
		[]string{"classification", "route", "status"},
	)

	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delphi_turn_duration_seconds",
			Help:    "End-to-end turn duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"route", "status"},
	)

	TurnRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_turn_retries_total",
			Help: "Total number of quality-gate retries",
		},
		[]string{"route", "failure_reason"},
	)

	TurnQualityScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delphi_turn_quality_score",
			Help:    "Evaluator quality score per turn",
			Buckets: []float64{1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5},
		},
		[]string{"route"},
	)

	// Stage metrics
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delphi_stage_duration_seconds",
			Help:    "Per-stage execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	StageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_stage_errors_total",
			Help: "Total number of stage errors",
		},
		[]string{"stage"},
	)

	// Model metrics
	ModelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_model_calls_total",
			Help: "Total number of LLM calls",
		},
		[]string{"provider", "model", "status"}, // status: success|error|rate_limited
	)

	ModelTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_model_tokens_total",
			Help: "Total tokens consumed by LLM calls",
		},
		[]string{"provider", "model", "type"}, // type: input|output
	)

	// Evidence metrics
	EvidenceItems = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delphi_evidence_items",
			Help:    "Evidence items gathered per attempt",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"route"},
	)

	UnresolvedEntities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_unresolved_entities_total",
			Help: "Entities that could not be resolved to market data",
		},
		[]string{"route"},
	)

	// Artifact metrics
	ArtifactsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_artifacts_created_total",
			Help: "Total number of artifacts produced",
		},
		[]string{"kind"},
	)
)

// Init registers all metrics with the default registry
func Init() {
	prometheus.MustRegister(TurnsTotal)
	prometheus.MustRegister(TurnDuration)
	prometheus.MustRegister(TurnRetries)
	prometheus.MustRegister(TurnQualityScore)

	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(StageErrors)

	prometheus.MustRegister(ModelCalls)
	prometheus.MustRegister(ModelTokens)

	prometheus.MustRegister(EvidenceItems)
	prometheus.MustRegister(UnresolvedEntities)

	prometheus.MustRegister(ArtifactsCreated)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStage records one stage execution
func ObserveStage(stage string, start time.Time, err error) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		StageErrors.WithLabelValues(stage).Inc()
	}
}
