package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TestsIngested tracks tests ingested per original outcome
	TestsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_tests_ingested_total",
			Help: "Total number of tests ingested",
		},
		[]string{"outcome"},
	)

	// ClassificationsTotal tracks classifier results per category
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_classifications_total",
			Help: "Total number of classified attempts",
		},
		[]string{"category"},
	)

	// ClassifierErrorsTotal tracks degraded classifier calls
	ClassifierErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_classifier_errors_total",
			Help: "Total number of classifier calls degraded to Unknown",
		},
		[]string{"reason"},
	)

	// ClassifierLatency tracks classifier call latency
	ClassifierLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triage_classifier_latency_seconds",
			Help:    "Classifier call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RetriesIssued tracks retry attempts issued by the orchestrator
	RetriesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_retries_issued_total",
			Help: "Total number of retry attempts issued",
		},
	)

	// RunnerFailuresTotal tracks runner-level batch failures
	RunnerFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_runner_failures_total",
			Help: "Total number of runner batch failures",
		},
	)

	// TestsFinalized tracks final verdicts per status and reason
	TestsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_tests_finalized_total",
			Help: "Total number of tests reaching a final state",
		},
		[]string{"status", "reason"},
	)

	// PassesExecuted tracks orchestration passes per run
	PassesExecuted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triage_passes_executed_total",
			Help: "Total number of orchestration passes executed",
		},
	)
)
