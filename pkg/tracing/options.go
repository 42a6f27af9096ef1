package tracing

import (
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// SpanOption configures a span before it is created.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind       Kind
	attributes map[string]interface{}
}

// WithKind sets the span kind.
func WithKind(kind Kind) SpanOption {
	return func(c *spanConfig) {
		c.kind = kind
	}
}

// WithAttributes adds attributes to the span at creation time.
func WithAttributes(attrs map[string]interface{}) SpanOption {
	return func(c *spanConfig) {
		for k, v := range attrs {
			c.attributes[k] = v
		}
	}
}

// WithAttribute adds a single attribute to the span at creation time.
func WithAttribute(key string, value interface{}) SpanOption {
	return func(c *spanConfig) {
		c.attributes[key] = value
	}
}

func newSpanConfig(kind Kind, opts []SpanOption) *spanConfig {
	c := &spanConfig{kind: kind, attributes: make(map[string]interface{})}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limits bounds the amount of data a single span can hold.
type Limits struct {
	MaxAttributes int
	MaxEvents     int
}

// DefaultLimits are used when no explicit limits are configured.
var DefaultLimits = Limits{
	MaxAttributes: 128,
	MaxEvents:     128,
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithExporter sets the sink receiving finished spans.
func WithExporter(exporter Exporter) Option {
	return func(t *Tracer) {
		if exporter != nil {
			t.exporter = exporter
		}
	}
}

// WithLogger sets the logger used for export and background failures.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock sets the clock used for span timestamps.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLimits overrides the per span limits. Non-positive values keep the
// defaults.
func WithLimits(limits Limits) Option {
	return func(t *Tracer) {
		if limits.MaxAttributes > 0 {
			t.limits.MaxAttributes = limits.MaxAttributes
		}
		if limits.MaxEvents > 0 {
			t.limits.MaxEvents = limits.MaxEvents
		}
	}
}

// WithMetrics sets the prometheus collectors the tracer reports to.
func WithMetrics(m *Metrics) Option {
	return func(t *Tracer) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithServiceName tags every span with the local service name.
func WithServiceName(name string) Option {
	return func(t *Tracer) {
		t.serviceName = name
	}
}
