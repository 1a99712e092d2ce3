// Package metrics provides Prometheus instrumentation for the tripwire engine.
// All metrics use the "tripwire" namespace and are registered with the default
// registry via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tripwire"

// Outcome label values.
const (
	OutcomeFlagged  = "flagged"
	OutcomeClean    = "clean"
	OutcomeError    = "error"
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeDisabled = "disabled"
)

var (
	// AnalysesTotal counts communication analyses.
	// outcome: flagged | clean | error
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "communications_total",
			Help:      "Total number of communication analyses by outcome.",
		},
		[]string{"outcome"},
	)

	// AnalysisDurationSeconds tracks how long one communication analysis takes.
	AnalysisDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Duration of a single communication analysis in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
	)

	// DetectionsTriggeredTotal counts detection results by the highest tier reached.
	// tier: alert | investigation | critical
	DetectionsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "triggered_total",
			Help:      "Total number of detections crossing a threshold, by highest tier.",
		},
		[]string{"tier"},
	)

	// LLMFallbackTotal counts language-model fallback calls.
	// outcome: ok | error | timeout | disabled
	LLMFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detection",
			Name:      "llm_fallback_total",
			Help:      "Total number of language-model fallback attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// LLMRetriesTotal counts retried language-model calls.
	// operation: classify_risk | assess_violation
	// reason: rate_limited | timeout | transient
	LLMRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Total number of retried language-model calls by operation and reason.",
		},
		[]string{"operation", "reason"},
	)

	// ViolationTransitionsTotal counts violation status transitions.
	ViolationTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "violation",
			Name:      "transitions_total",
			Help:      "Total number of violation status transitions.",
		},
		[]string{"from", "to"},
	)

	// BatchItemsTotal counts batch items processed.
	// status: succeeded | failed
	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "items_total",
			Help:      "Total number of batch items processed by status.",
		},
		[]string{"status"},
	)

	// AnomaliesDetectedTotal counts reported anomalies by metric.
	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "anomaly",
			Name:      "detected_total",
			Help:      "Total number of anomalies reported by metric.",
		},
		[]string{"metric"},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
