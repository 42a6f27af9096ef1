package tracing

import (
	"context"

	"github.com/basvanbeek/tracelink/pkg/traceparent"
)

type spanKey struct{}

type remoteKey struct{}

// ContextWithSpan returns a copy of ctx in which span is the current span.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanKey{}, span)
}

// SpanFromContext returns the current span or nil.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// ContextWithRemote returns a copy of ctx holding a parent context received
// from another process (or snapshotted for detached work).
func ContextWithRemote(ctx context.Context, tc traceparent.TraceContext) context.Context {
	return context.WithValue(ctx, remoteKey{}, tc)
}

// TraceContextFromContext returns the context that new spans started from ctx
// would use as parent: the current span if any, else the remote parent.
func TraceContextFromContext(ctx context.Context) (traceparent.TraceContext, bool) {
	if span := SpanFromContext(ctx); span != nil {
		return span.Context(), true
	}
	if ctx == nil {
		return traceparent.TraceContext{}, false
	}
	tc, ok := ctx.Value(remoteKey{}).(traceparent.TraceContext)
	return tc, ok && tc.IsValid()
}
