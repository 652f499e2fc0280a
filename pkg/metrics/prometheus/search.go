// Package prometheus provides Prometheus-backed implementations of the
// metrics interfaces in pkg/metrics. Constructors return nil when the
// process registry has not been initialized, which disables collection.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/peerdaemon/peerd/pkg/metrics"
)

// searchMetrics is the Prometheus implementation of metrics.SearchMetrics.
type searchMetrics struct {
	started   prometheus.Counter
	active    prometheus.Gauge
	completed *prometheus.CounterVec
	responses prometheus.Counter
}

// NewSearchMetrics creates a Prometheus-backed SearchMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSearchMetrics() metrics.SearchMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &searchMetrics{
		started: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "peerd_searches_started_total",
			Help: "Total number of searches started",
		}),
		active: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "peerd_searches_active",
			Help: "Number of searches currently streaming responses",
		}),
		completed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "peerd_searches_completed_total",
				Help: "Total number of completed searches by termination reason",
			},
			[]string{"reason"},
		),
		responses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "peerd_search_responses_total",
			Help: "Total number of peer responses observed across all searches",
		}),
	}
}

func (m *searchMetrics) RecordStarted() {
	m.started.Inc()
	m.active.Inc()
}

func (m *searchMetrics) RecordCompleted(reason string) {
	m.active.Dec()
	m.completed.WithLabelValues(reason).Inc()
}

func (m *searchMetrics) RecordResponses(n int) {
	m.responses.Add(float64(n))
}
