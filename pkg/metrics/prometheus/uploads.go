package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/peerdaemon/peerd/pkg/metrics"
)

// uploadMetrics is the Prometheus implementation of metrics.UploadMetrics.
type uploadMetrics struct {
	slotsInUse   *prometheus.GaugeVec
	queueDepth   *prometheus.GaugeVec
	grantedBytes *prometheus.CounterVec
}

// NewUploadMetrics creates a Prometheus-backed UploadMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() metrics.UploadMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &uploadMetrics{
		slotsInUse: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "peerd_upload_slots_in_use",
				Help: "Upload slots currently in use by group",
			},
			[]string{"group"},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "peerd_upload_queue_depth",
				Help: "Entries waiting in the upload queue by group",
			},
			[]string{"group"},
		),
		grantedBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "peerd_upload_granted_bytes_total",
				Help: "Bytes granted to uploads by the bandwidth governor, by group",
			},
			[]string{"group"},
		),
	}
}

func (m *uploadMetrics) SetSlotsInUse(group string, n int) {
	m.slotsInUse.WithLabelValues(group).Set(float64(n))
}

func (m *uploadMetrics) SetQueueDepth(group string, n int) {
	m.queueDepth.WithLabelValues(group).Set(float64(n))
}

func (m *uploadMetrics) RecordGrantedBytes(group string, n int64) {
	m.grantedBytes.WithLabelValues(group).Add(float64(n))
}
