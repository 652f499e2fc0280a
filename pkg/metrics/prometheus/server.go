package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/peerdaemon/peerd/pkg/metrics"
)

// serverMetrics is the Prometheus implementation of metrics.ServerMetrics.
type serverMetrics struct {
	attempts  *prometheus.CounterVec
	connected prometheus.Gauge
}

// NewServerMetrics creates a Prometheus-backed ServerMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewServerMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &serverMetrics{
		attempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "peerd_server_connect_attempts_total",
				Help: "Total number of server connect attempts by outcome",
			},
			[]string{"outcome"}, // "success", "failure", "cancelled"
		),
		connected: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "peerd_server_connected",
			Help: "Whether a server session is currently established (1 or 0)",
		}),
	}
}

func (m *serverMetrics) RecordConnectAttempt(outcome string) {
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *serverMetrics) SetConnected(connected bool) {
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
