package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basvanbeek/tracelink/pkg/observability"
	"github.com/basvanbeek/tracelink/pkg/traceparent"
	"github.com/basvanbeek/tracelink/pkg/tracing"
	"github.com/basvanbeek/tracelink/pkg/tracing/tracetest"
)

type tracerer struct {
	tr *tracing.Tracer
}

func (t tracerer) Tracer() *tracing.Tracer { return t.tr }

type fixture struct {
	ep  *Endpoints
	bg  *tracing.Background
	rec *tracetest.Recorder
	srv *httptest.Server
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()
	rec := tracetest.NewRecorder()
	reg := prometheus.NewRegistry()
	tr := tracing.New(
		tracing.WithExporter(rec),
		tracing.WithServiceName(name),
		tracing.WithMetrics(tracing.NewMetrics(reg)),
	)
	bg := tracing.NewBackground(tr)
	ep := &Endpoints{
		Observability: tracerer{tr},
		Background:    bg,
		Gatherer:      reg,
		ServiceName:   name,
	}
	ep.FlagSet()
	require.NoError(t, ep.Validate())
	require.NoError(t, ep.PreRun())

	srv := httptest.NewServer(ep.Handler())
	t.Cleanup(srv.Close)
	return &fixture{ep: ep, bg: bg, rec: rec, srv: srv}
}

func (f *fixture) get(t *testing.T, path string, header http.Header) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return res, body
}

func TestHello(t *testing.T) {
	f := newFixture(t, "svc-a")
	incoming := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	res, body := f.get(t, "/hello/bob", http.Header{traceparent.Header: []string{incoming}})

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "hello, bob", body["message"])
	assert.Equal(t, "svc-a", body["service"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", body["traceId"])
	assert.Equal(t, body["spanId"], res.Header.Get(tracing.HeaderSpanID))
	assert.NotEmpty(t, res.Header.Get(observability.BaggageRequestID))

	mw, ok := f.rec.Span("request-id")
	require.True(t, ok)
	handler, _ := f.rec.Span("hello")
	compose, _ := f.rec.Span("compose-greeting")
	lookup, _ := f.rec.Span("lookup-user")

	assert.Equal(t, "00f067aa0ba902b7", mw.ParentSpanID.String())
	assert.Equal(t, mw.TraceContext.SpanID, handler.ParentSpanID)
	assert.Equal(t, handler.TraceContext.SpanID, compose.ParentSpanID)
	assert.Equal(t, compose.TraceContext.SpanID, lookup.ParentSpanID)
	assert.Equal(t, "bob", handler.Attributes[attrHelloName])
	assert.Equal(t, "svc-a", handler.Attributes[tracing.AttrServiceName])
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, "svc-a")

	id := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	res, _ := f.get(t, "/hello/bob", http.Header{observability.BaggageRequestID: []string{id}})
	assert.Equal(t, id, res.Header.Get(observability.BaggageRequestID))
	mw, _ := f.rec.Span("request-id")
	assert.Equal(t, id, mw.Attributes[attrRequestID])

	res, body := f.get(t, "/hello/bob", http.Header{observability.BaggageRequestID: []string{"not-a-uuid"}})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, errRequestID.Error(), body["message"])
	assert.NotEmpty(t, res.Header.Get(tracing.HeaderTraceID))
}

func TestFail(t *testing.T) {
	f := newFixture(t, "svc-a")

	res, body := f.get(t, "/fail/404", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "requested failure with status 404", body["message"])
	assert.Equal(t, res.Header.Get(tracing.HeaderTraceID), body["traceId"])
	assert.Equal(t, res.Header.Get(tracing.HeaderSpanID), body["spanId"])

	span, ok := f.rec.Span("fail")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusError, span.Status.Code)

	res, _ = f.get(t, "/fail/200", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestPanic(t *testing.T) {
	f := newFixture(t, "svc-a")

	res, body := f.get(t, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "internal server error", body["message"])
	assert.Equal(t, res.Header.Get(tracing.HeaderTraceID), body["traceId"])

	span, ok := f.rec.Span("panic")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusError, span.Status.Code)
	assert.Equal(t, "requested panic", span.Status.Message)
}

func TestBackground(t *testing.T) {
	f := newFixture(t, "svc-a")

	res, body := f.get(t, "/background/10ms?fail=true", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "background task scheduled for 10ms", body["message"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.bg.Drain(ctx))

	handler, ok := f.rec.Span("background")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusOK, handler.Status.Code)

	task, ok := f.rec.Span("background-task")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusError, task.Status.Code)
	assert.Equal(t, handler.TraceContext.SpanID, task.ParentSpanID)
	assert.Equal(t, handler.TraceContext.TraceID, task.TraceContext.TraceID)
}

func TestKnobs(t *testing.T) {
	f := newFixture(t, "svc-a")

	res, body := f.get(t, "/errors/100", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "errors percentage set to: 100%", body["message"])

	res, body = f.get(t, "/hello/bob", nil)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, errInternal.Error(), body["message"])

	res, _ = f.get(t, "/errors/101", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = f.get(t, "/latency/5", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "duration set to: 5ms", body["message"])

	res, _ = f.get(t, "/latency/-1s", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = f.get(t, "/graceful/maybe", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestCallPropagatesTrace(t *testing.T) {
	upstream := newFixture(t, "svc-a")
	downstream := newFixture(t, "svc-b")
	host := strings.TrimPrefix(downstream.srv.URL, "http://")

	res, body := upstream.get(t, "/call/"+host+"/hello/carol", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hello, carol", data["message"])
	assert.Equal(t, body["traceId"], data["traceId"])
	assert.Equal(t, "svc-b", data["service"])

	clientSpan, ok := upstream.rec.Span("GET " + host)
	require.True(t, ok)
	assert.Equal(t, tracing.KindClient, clientSpan.Kind)

	remoteEntry, ok := downstream.rec.Span("request-id")
	require.True(t, ok)
	assert.Equal(t, clientSpan.TraceContext.SpanID, remoteEntry.ParentSpanID)
}

func TestCallDownstreamFailure(t *testing.T) {
	upstream := newFixture(t, "svc-a")
	downstream := newFixture(t, "svc-b")
	host := strings.TrimPrefix(downstream.srv.URL, "http://")

	res, body := upstream.get(t, "/call/"+host+"/fail/503", nil)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Contains(t, body["message"], "503 Service Unavailable")

	res, _ = upstream.get(t, "/graceful/on", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, body = upstream.get(t, "/call/"+host+"/fail/503", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body["message"], "got error return")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "svc-a")
	_, _ = f.get(t, "/hello/bob", nil)

	res, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	families, err := f.ep.Gatherer.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "tracelink_spans_ended_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate(t *testing.T) {
	ep := &Endpoints{errors: 120, duration: -time.Second}
	err := ep.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), flagErrors)
	assert.Contains(t, err.Error(), flagDuration)

	assert.Error(t, (&Endpoints{}).PreRun())
}
