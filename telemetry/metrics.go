package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the controller's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver so handlers can run without metrics.
type Metrics struct {
	Registry *prometheus.Registry

	invocations   *prometheus.CounterVec
	stopAttempts  *prometheus.CounterVec
	dnsChanges    *prometheus.CounterVec
	uploadedFiles prometheus.Counter
	uploadedBytes prometheus.Counter
	uploadErrors  prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mephisto_handler_invocations_total",
				Help: "Handler invocations by handler and outcome",
			},
			[]string{"handler", "outcome"},
		),
		stopAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mephisto_launcher_stop_attempts_total",
				Help: "StopTask calls issued while preempting running tasks",
			},
			[]string{"result"},
		),
		dnsChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mephisto_dns_changes_total",
				Help: "Route 53 record changes by action and result",
			},
			[]string{"action", "result"},
		),
		uploadedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mephisto_sync_uploaded_files_total",
			Help: "Files copied to S3",
		}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mephisto_sync_uploaded_bytes_total",
			Help: "Bytes copied to S3",
		}),
		uploadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mephisto_sync_upload_errors_total",
			Help: "Failed upload attempts, including retried ones",
		}),
	}
	m.Registry.MustRegister(
		m.invocations, m.stopAttempts, m.dnsChanges,
		m.uploadedFiles, m.uploadedBytes, m.uploadErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Invocation(handler, outcome string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(handler, outcome).Inc()
}

func (m *Metrics) StopAttempt(ok bool) {
	if m == nil {
		return
	}
	m.stopAttempts.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) DNSChange(action string, ok bool) {
	if m == nil {
		return
	}
	m.dnsChanges.WithLabelValues(action, result(ok)).Inc()
}

func (m *Metrics) Uploaded(bytes int64) {
	if m == nil {
		return
	}
	m.uploadedFiles.Inc()
	m.uploadedBytes.Add(float64(bytes))
}

func (m *Metrics) UploadError() {
	if m == nil {
		return
	}
	m.uploadErrors.Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
