package tracing

import (
	"context"
	"net/http"
)

// Response headers exposing the identifiers of the span serving a request.
const (
	HeaderTraceID = "X-Trace-Id"
	HeaderSpanID  = "X-Span-Id"
)

// Carrier adapts a request handling framework to the span factories. It
// exposes inbound headers, outbound headers and a per request context that
// factories replace to install a new current span.
type Carrier interface {
	// Context returns the current request context.
	Context() context.Context
	// SetContext replaces the request context for the remainder of the
	// request.
	SetContext(ctx context.Context)
	// RequestHeader returns the first inbound value for key.
	RequestHeader(key string) string
	// SetResponseHeader sets an outbound header.
	SetResponseHeader(key, value string)
}

// HTTPCarrier is a Carrier for net/http handlers.
type HTTPCarrier struct {
	w http.ResponseWriter
	r *http.Request
}

// NewHTTPCarrier returns a Carrier for a net/http request.
func NewHTTPCarrier(w http.ResponseWriter, r *http.Request) *HTTPCarrier {
	return &HTTPCarrier{w: w, r: r}
}

// Context implements Carrier.
func (c *HTTPCarrier) Context() context.Context {
	return c.r.Context()
}

// SetContext implements Carrier.
func (c *HTTPCarrier) SetContext(ctx context.Context) {
	c.r = c.r.WithContext(ctx)
}

// RequestHeader implements Carrier.
func (c *HTTPCarrier) RequestHeader(key string) string {
	return c.r.Header.Get(key)
}

// SetResponseHeader implements Carrier.
func (c *HTTPCarrier) SetResponseHeader(key, value string) {
	c.w.Header().Set(key, value)
}

// Request returns the request carrying the latest context.
func (c *HTTPCarrier) Request() *http.Request {
	return c.r
}

// ResponseWriter returns the wrapped response writer.
func (c *HTTPCarrier) ResponseWriter() http.ResponseWriter {
	return c.w
}
