package tracing

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tracelink"

// Metrics holds the prometheus collectors updated by the tracer and the
// background task set.
type Metrics struct {
	spansEnded          *prometheus.CounterVec
	exportFailures      prometheus.Counter
	droppedAttributes   prometheus.Counter
	backgroundInFlight  prometheus.Gauge
	backgroundDropped   prometheus.Counter
	backgroundCompleted *prometheus.CounterVec
}

// NewMetrics creates the tracing collectors and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		spansEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "spans_ended_total",
			Help:      "Number of finalized spans by kind and status.",
		}, []string{"kind", "status"}),
		exportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "span_export_failures_total",
			Help:      "Number of spans the exporter failed to accept.",
		}),
		droppedAttributes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "span_attributes_dropped_total",
			Help:      "Number of attributes rejected due to type or span limits.",
		}),
		backgroundInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "background_tasks_in_flight",
			Help:      "Number of detached background tasks currently running.",
		}),
		backgroundDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "background_tasks_dropped_total",
			Help:      "Number of background tasks refused because the task set was full or closed.",
		}),
		backgroundCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "background_tasks_completed_total",
			Help:      "Number of completed background tasks by status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.spansEnded,
			m.exportFailures,
			m.droppedAttributes,
			m.backgroundInFlight,
			m.backgroundDropped,
			m.backgroundCompleted,
		)
	}
	return m
}
