package grpcadapter_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/basvanbeek/tracelink/pkg/traceparent"
	"github.com/basvanbeek/tracelink/pkg/tracing"
	"github.com/basvanbeek/tracelink/pkg/tracing/grpcadapter"
	"github.com/basvanbeek/tracelink/pkg/tracing/tracetest"
)

const incoming = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

type stream struct {
	mu     sync.Mutex
	header metadata.MD
}

func (s *stream) Method() string { return "/orders.Orders/Get" }

func (s *stream) SetHeader(md metadata.MD) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = metadata.Join(s.header, md)
	return nil
}

func (s *stream) SendHeader(md metadata.MD) error { return s.SetHeader(md) }

func (s *stream) SetTrailer(metadata.MD) error { return nil }

func serverContext(header string) (context.Context, *stream) {
	st := &stream{}
	ctx := grpc.NewContextWithServerTransportStream(context.Background(), st)
	if header != "" {
		ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(traceparent.Header, header))
	}
	return ctx, st
}

var info = &grpc.UnaryServerInfo{FullMethod: "/orders.Orders/Get"}

func TestServerInterceptor(t *testing.T) {
	rec := tracetest.NewRecorder()
	tr := tracing.New(tracing.WithExporter(rec))
	ctx, st := serverContext(incoming)

	resp, err := grpcadapter.UnaryServerInterceptor(tr)(ctx, "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		span := tracing.SpanFromContext(ctx)
		require.NotNil(t, span)
		return "resp:" + span.TraceID(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "resp:4bf92f3577b34da6a3ce929d0e0e4736", resp)

	span, ok := rec.Span(info.FullMethod)
	require.True(t, ok)
	assert.Equal(t, tracing.KindServer, span.Kind)
	assert.Equal(t, "00f067aa0ba902b7", span.ParentSpanID.String())
	assert.Equal(t, []string{span.TraceContext.SpanID.String()}, st.header.Get("x-span-id"))
	assert.Equal(t, []string{"4bf92f3577b34da6a3ce929d0e0e4736"}, st.header.Get("x-trace-id"))
}

func TestServerInterceptorKeepsStatusError(t *testing.T) {
	rec := tracetest.NewRecorder()
	tr := tracing.New(tracing.WithExporter(rec))
	ctx, _ := serverContext("")

	_, err := grpcadapter.UnaryServerInterceptor(tr)(ctx, nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "order not found")
	})
	assert.Equal(t, codes.NotFound, status.Code(err))

	span, ok := rec.Span(info.FullMethod)
	require.True(t, ok)
	assert.Equal(t, tracing.StatusError, span.Status.Code)
	assert.Equal(t, "order not found", span.Status.Message)
	assert.Equal(t, int64(404), span.Attributes[tracing.AttrHTTPStatusCode])
}

func TestServerInterceptorPanic(t *testing.T) {
	tr := tracing.New()
	ctx, _ := serverContext("")

	_, err := grpcadapter.UnaryServerInterceptor(tr)(ctx, nil, info, func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestClientInterceptor(t *testing.T) {
	rec := tracetest.NewRecorder()
	tr := tracing.New(tracing.WithExporter(rec))
	ctx, parent := tr.Start(context.Background(), "parent")

	var sent []string
	err := grpcadapter.UnaryClientInterceptor(tr)(ctx, "/orders.Orders/Get", nil, nil, nil,
		func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			md, _ := metadata.FromOutgoingContext(ctx)
			sent = md.Get(traceparent.Header)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, sent, 1)

	span, ok := rec.Span("/orders.Orders/Get")
	require.True(t, ok)
	assert.Equal(t, tracing.KindClient, span.Kind)
	assert.Equal(t, parent.Context().SpanID, span.ParentSpanID)
	assert.Equal(t, span.TraceContext.String(), sent[0])
}

func TestClientInterceptorReplacesTraceParent(t *testing.T) {
	rec := tracetest.NewRecorder()
	tr := tracing.New(tracing.WithExporter(rec))
	original := metadata.Pairs(traceparent.Header, incoming, "x-tenant", "acme")
	ctx := metadata.NewOutgoingContext(context.Background(), original)

	var sent metadata.MD
	chained := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		sent = md
		return nil
	}
	interceptor := grpcadapter.UnaryClientInterceptor(tr)
	err := interceptor(ctx, "/orders.Orders/Get", nil, nil, nil,
		func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			return interceptor(ctx, "/orders.Orders/List", req, reply, cc, chained, opts...)
		})
	require.NoError(t, err)

	require.Len(t, sent.Get(traceparent.Header), 1)
	assert.Equal(t, []string{"acme"}, sent.Get("x-tenant"))
	inner, ok := rec.Span("/orders.Orders/List")
	require.True(t, ok)
	assert.Equal(t, inner.TraceContext.String(), sent.Get(traceparent.Header)[0])
	assert.Equal(t, []string{incoming}, original.Get(traceparent.Header))
}
