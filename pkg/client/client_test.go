package client_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basvanbeek/tracelink/pkg/client"
	"github.com/basvanbeek/tracelink/pkg/traceparent"
	"github.com/basvanbeek/tracelink/pkg/tracing"
	"github.com/basvanbeek/tracelink/pkg/tracing/tracetest"
)

type upstream struct {
	mu      sync.Mutex
	headers []string
	bodies  []string
}

func (u *upstream) last() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.headers) == 0 {
		return ""
	}
	return u.headers[len(u.headers)-1]
}

func newUpstream(t *testing.T) (*upstream, *httptest.Server) {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.headers = append(u.headers, r.Header.Get(traceparent.Header))
		u.bodies = append(u.bodies, string(body))
		u.mu.Unlock()
	}
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"greeting":"hello"}`))
	})
	mux.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte("plain hello"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		http.Error(w, "no such thing", http.StatusNotFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return u, srv
}

func TestNoAmbientSpanSendsFreshHeader(t *testing.T) {
	rec := tracetest.NewRecorder()
	tr := tracing.New(tracing.WithExporter(rec))
	up, srv := newUpstream(t)
	c := client.New(tr)

	res, err := c.Get(context.Background(), srv.URL+"/json", "")
	require.NoError(t, err)

	sent, ok := traceparent.Decode(up.last())
	require.True(t, ok, "header %q must be valid", up.last())
	assert.True(t, sent.Sampled)
	assert.Equal(t, sent.String(), res.TraceParent)
	assert.Empty(t, rec.Spans(), "no span is recorded without a span name")
}

func TestClientSpanIsParentOfServerSpan(t *testing.T) {
	rec := tracetest.NewRecorder()
	tr := tracing.New(tracing.WithExporter(rec))

	srv := httptest.NewServer(tracing.Handler(tr, "server", func(ctx context.Context, r *http.Request, span *tracing.Span) tracing.Outcome[map[string]string] {
		return tracing.Success(map[string]string{"trace": span.TraceID()})
	}))
	defer srv.Close()

	c := client.New(tr)
	ctx, op := tr.Start(context.Background(), "checkout")
	res, err := c.Get(ctx, srv.URL, "GET /")
	require.NoError(t, err)
	tr.RecordOutcome(op, nil)

	clientSpan, ok := rec.Span("GET /")
	require.True(t, ok)
	serverSpan, ok := rec.Span("server")
	require.True(t, ok)

	assert.Equal(t, tracing.KindClient, clientSpan.Kind)
	assert.Equal(t, tracing.StatusOK, clientSpan.Status.Code)
	assert.Equal(t, op.Context().SpanID, clientSpan.ParentSpanID)
	assert.Equal(t, clientSpan.TraceContext.SpanID, serverSpan.ParentSpanID)
	assert.Equal(t, op.TraceID(), serverSpan.TraceContext.TraceID.String())
	assert.Equal(t, int64(http.StatusOK), clientSpan.Attributes[tracing.AttrHTTPStatusCode])

	body, ok := res.JSON.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, op.TraceID(), body["trace"])
	assert.Equal(t, op.TraceID(), res.Header.Get(tracing.HeaderTraceID))
}

func TestEnclosingSpanHeaderWithoutSpanName(t *testing.T) {
	rec := tracetest.NewRecorder()
	tr := tracing.New(tracing.WithExporter(rec))
	up, srv := newUpstream(t)
	c := client.New(tr)

	err := c.Operation(context.Background(), "user-click", func(ctx context.Context) error {
		_, err := c.Get(ctx, srv.URL+"/text", "")
		return err
	})
	require.NoError(t, err)

	op, ok := rec.Span("user-click")
	require.True(t, ok)
	assert.Equal(t, tracing.KindClient, op.Kind)
	assert.Equal(t, op.TraceContext.String(), up.last())
}

func TestBodyDecoding(t *testing.T) {
	tr := tracing.New()
	_, srv := newUpstream(t)
	c := client.New(tr)

	res, err := c.Get(context.Background(), srv.URL+"/json", "json")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"greeting": "hello"}, res.JSON)
	assert.Empty(t, res.Text)

	res, err = c.Get(context.Background(), srv.URL+"/text", "text")
	require.NoError(t, err)
	assert.Nil(t, res.JSON)
	assert.Equal(t, "plain hello", res.Text)
}

func TestPostJSON(t *testing.T) {
	tr := tracing.New()
	up, srv := newUpstream(t)
	c := client.New(tr)

	_, err := c.PostJSON(context.Background(), srv.URL+"/json", map[string]int{"qty": 2}, "order")
	require.NoError(t, err)

	up.mu.Lock()
	defer up.mu.Unlock()
	assert.JSONEq(t, `{"qty":2}`, up.bodies[len(up.bodies)-1])
}

func TestNon2xxEndsSpanWithError(t *testing.T) {
	rec := tracetest.NewRecorder()
	tr := tracing.New(tracing.WithExporter(rec))
	_, srv := newUpstream(t)
	c := client.New(tr)

	_, err := c.Get(context.Background(), srv.URL+"/missing", "lookup")

	var serr *client.StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusNotFound, serr.StatusCode)
	assert.Contains(t, serr.Body, "no such thing")

	span, ok := rec.Span("lookup")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusError, span.Status.Code)
	assert.Equal(t, "404 Not Found", span.Status.Message)
}

func TestCancellationEndsSpanWithError(t *testing.T) {
	rec := tracetest.NewRecorder()
	tr := tracing.New(tracing.WithExporter(rec))
	_, srv := newUpstream(t)
	c := client.New(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, srv.URL+"/slow", "slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	span, ok := rec.Span("slow")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusError, span.Status.Code)
	assert.Equal(t, 1, rec.EndCount(span.TraceContext.SpanID.String()))
}

func TestNetworkFailure(t *testing.T) {
	rec := tracetest.NewRecorder()
	tr := tracing.New(tracing.WithExporter(rec))
	c := client.New(tr, client.WithTimeout(time.Second))

	_, err := c.Get(context.Background(), "http://127.0.0.1:1/unreachable", "unreachable")
	require.Error(t, err)

	span, ok := rec.Span("unreachable")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusError, span.Status.Code)
}

func TestResponseBodyIsBounded(t *testing.T) {
	rec := tracetest.NewRecorder()
	tr := tracing.New(tracing.WithExporter(rec))
	_, srv := newUpstream(t)

	c := client.New(tr, client.WithMaxResponseBytes(int64(len("plain hello"))))
	res, err := c.Get(context.Background(), srv.URL+"/text", "exact")
	require.NoError(t, err)
	assert.Equal(t, "plain hello", res.Text)

	c = client.New(tr, client.WithMaxResponseBytes(5))
	_, err = c.Get(context.Background(), srv.URL+"/text", "oversized")
	require.Error(t, err)
	assert.True(t, errors.Is(err, client.ErrResponseTooLarge))

	span, ok := rec.Span("oversized")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusError, span.Status.Code)
}
