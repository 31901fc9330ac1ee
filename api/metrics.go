package api

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes authentication and attachment counters to Prometheus.
// A nil *Collector is valid and records nothing.
type Collector struct {
	auditEvents   *prometheus.CounterVec
	fileResponses *prometheus.CounterVec
	uploadBytes   prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_audit_events_total",
			Help: "Security audit events by type.",
		}, []string{"event"}),
		fileResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_file_responses_total",
			Help: "Attachment download responses by HTTP status.",
		}, []string{"status_code"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbor_upload_bytes_total",
			Help: "Bytes accepted by the attachment upload endpoint.",
		}),
	}
	reg.MustRegister(c.auditEvents, c.fileResponses, c.uploadBytes)
	return c
}

func (c *Collector) recordEvent(event AuditEvent) {
	if c == nil {
		return
	}
	c.auditEvents.WithLabelValues(string(event)).Inc()
}

func (c *Collector) recordFileResponse(status int) {
	if c == nil {
		return
	}
	c.fileResponses.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (c *Collector) recordUpload(n int64) {
	if c == nil {
		return
	}
	c.uploadBytes.Add(float64(n))
}

// MetricsHandler serves the metrics in g in the Prometheus text format.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
