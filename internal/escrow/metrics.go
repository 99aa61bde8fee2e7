package escrow

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "escrow"

// Metrics contains metrics exposed by the escrow engine.
type Metrics struct {
	// Contributions recorded, by rail.
	ContributionsRecorded metrics.Counter
	// Applied escrow transitions, by from/to status and rail.
	Transitions metrics.Counter
	// Operations rejected by the state machine, by operation.
	RejectedTransitions metrics.Counter
	// Confirmations that arrived for an already Held contribution.
	DuplicateConfirmations metrics.Counter
	// Rail failures recorded on contributions or raised by reverse transfers.
	RailFailures metrics.Counter
	// Settlement runs, by outcome.
	SettlementRuns metrics.Counter
	// Contributions handled by settlement, by result.
	SettledContributions metrics.Counter
	// Time spent in a settlement run.
	SettlementDuration metrics.Histogram
	// Times a summary cache disagreed with a full fold.
	SummaryDrift metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client library.
// The collectors are registered with the default registerer.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		ContributionsRecorded: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "contributions_recorded_total",
			Help:      "Number of contributions recorded.",
		}, []string{"rail"}),
		Transitions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "transitions_total",
			Help:      "Number of applied escrow transitions.",
		}, []string{"from", "to", "rail"}),
		RejectedTransitions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rejected_total",
			Help:      "Number of escrow operations rejected by the state machine.",
		}, []string{"op"}),
		DuplicateConfirmations: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "duplicate_confirmations_total",
			Help:      "Number of repeated confirmations ignored.",
		}, []string{"rail"}),
		RailFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rail_failures_total",
			Help:      "Number of rail failures.",
		}, []string{"rail"}),
		SettlementRuns: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "settlement_runs_total",
			Help:      "Number of settlement runs that acted on contributions.",
		}, []string{"outcome"}),
		SettledContributions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "settled_contributions_total",
			Help:      "Number of contributions handled by settlement.",
		}, []string{"result"}),
		SettlementDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "settlement_duration_seconds",
			Help:      "Duration of settlement runs.",
			Buckets:   stdprometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{}),
		SummaryDrift: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "summary_drift_total",
			Help:      "Number of summary caches repaired by reconciliation.",
		}, []string{}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		ContributionsRecorded:  discard.NewCounter(),
		Transitions:            discard.NewCounter(),
		RejectedTransitions:    discard.NewCounter(),
		DuplicateConfirmations: discard.NewCounter(),
		RailFailures:           discard.NewCounter(),
		SettlementRuns:         discard.NewCounter(),
		SettledContributions:   discard.NewCounter(),
		SettlementDuration:     discard.NewHistogram(),
		SummaryDrift:           discard.NewCounter(),
	}
}
