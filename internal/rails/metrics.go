package rails

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "rails"

// Metrics contains metrics exposed by the rail reconciler.
type Metrics struct {
	// Rail submissions, by rail and result.
	Submissions metrics.Counter
	// Confirmation polls, by rail and resulting state.
	Polls metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		Submissions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "submissions_total",
			Help:      "Number of rail submissions.",
		}, []string{"rail", "result"}),
		Polls: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "polls_total",
			Help:      "Number of rail confirmation polls.",
		}, []string{"rail", "state"}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Submissions: discard.NewCounter(),
		Polls:       discard.NewCounter(),
	}
}
