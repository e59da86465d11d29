// Package monitoring exposes Prometheus metrics for the discovery and
// polling loops.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors.
type Metrics struct {
	ScansTotal      prometheus.Counter
	SessionsActive  prometheus.Gauge
	CapturesTotal   prometheus.Counter
	CaptureFailures prometheus.Counter
	SnapshotChanges prometheus.Counter
	IdleAlerts      prometheus.Counter
	CommandsTotal   *prometheus.CounterVec
}

// New registers collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		ScansTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cascadeview_scans_total",
			Help: "Discovery scan cycles completed",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cascadeview_sessions_active",
			Help: "Sessions currently tracked",
		}),
		CapturesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cascadeview_captures_total",
			Help: "Snapshot captures attempted",
		}),
		CaptureFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cascadeview_capture_failures_total",
			Help: "Snapshot captures that failed",
		}),
		SnapshotChanges: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cascadeview_snapshot_changes_total",
			Help: "Captures whose fingerprint differed from the previous one",
		}),
		IdleAlerts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cascadeview_idle_alerts_total",
			Help: "One-shot idle notifications emitted",
		}),
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cascadeview_commands_total",
			Help: "Inbound commands by kind and outcome",
		}, []string{"command", "outcome"}),
	}
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
