// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing implements the span lifecycle and context propagation layer
// of tracelink: span creation wrappers for requests, middleware, internal
// steps and detached background work, all parented through context.Context
// and propagated across processes with the W3C traceparent header.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/basvanbeek/tracelink/pkg"
	"github.com/basvanbeek/tracelink/pkg/traceparent"
)

const (
	// AttrServiceName holds the local service name on every span.
	AttrServiceName = "service.name"

	// ErrShutdown is reported for spans ending after Shutdown.
	ErrShutdown pkg.Error = "tracer is shut down"
)

// Tracer creates spans and hands them to its Exporter once finished. It is
// safe for concurrent use.
type Tracer struct {
	serviceName string
	exporter    Exporter
	logger      *zap.Logger
	clock       clockz.Clock
	limits      Limits
	metrics     *Metrics
	ids         *idGenerator

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New returns a Tracer. Without options spans are discarded.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		exporter: NoopExporter{},
		logger:   zap.NewNop(),
		clock:    clockz.RealClock,
		limits:   DefaultLimits,
		ids:      newIDGenerator(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(nil)
	}
	return t
}

// Logger returns the tracer's logger.
func (t *Tracer) Logger() *zap.Logger {
	return t.logger
}

// Start creates a span named name. The span becomes a child of the current
// span or remote parent found in ctx; without one it starts a new trace. The
// returned context carries the new span as current span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, _ := TraceContextFromContext(ctx)
	span := t.newSpan(parent, name, newSpanConfig(KindInternal, opts))
	return ContextWithSpan(ctx, span), span
}

// StartWithParent creates a span that is an explicit child of parent,
// ignoring any span held by ctx. An invalid parent starts a new trace.
func (t *Tracer) StartWithParent(ctx context.Context, parent traceparent.TraceContext, name string, opts ...SpanOption) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	span := t.newSpan(parent, name, newSpanConfig(KindInternal, opts))
	return ContextWithSpan(ctx, span), span
}

// NewRootContext mints a trace context for a new trace.
func (t *Tracer) NewRootContext() traceparent.TraceContext {
	return traceparent.TraceContext{
		TraceID: t.ids.TraceID(),
		SpanID:  t.ids.SpanID(),
		Sampled: true,
	}
}

func (t *Tracer) newSpan(parent traceparent.TraceContext, name string, cfg *spanConfig) *Span {
	tc := traceparent.TraceContext{
		SpanID:  t.ids.SpanID(),
		Sampled: true,
	}
	var parentID traceparent.SpanID
	if parent.IsValid() {
		tc.TraceID = parent.TraceID
		tc.Sampled = parent.Sampled
		parentID = parent.SpanID
	} else {
		tc.TraceID = t.ids.TraceID()
	}

	span := &Span{
		tracer: t,
		tc:     tc,
		data: SpanData{
			Name:         name,
			Kind:         cfg.kind,
			TraceContext: tc,
			ParentSpanID: parentID,
			StartTime:    t.clock.Now(),
			Attributes:   make(map[string]interface{}, len(cfg.attributes)+1),
		},
	}
	if t.serviceName != "" {
		span.SetAttribute(AttrServiceName, t.serviceName)
	}
	span.SetAttributes(cfg.attributes)
	return span
}

// Trace runs fn inside an INTERNAL child span of the current span in ctx. The
// span ends with the outcome of fn. A panic in fn marks the span ERROR and is
// propagated to the caller.
func (t *Tracer) Trace(ctx context.Context, name string, fn func(ctx context.Context, span *Span) error, opts ...SpanOption) error {
	ctx, span := t.Start(ctx, name, opts...)
	defer func() {
		if r := recover(); r != nil {
			t.RecordPanic(span, r)
			panic(r)
		}
	}()

	err := outcomeError(fn(ctx, span))
	t.RecordOutcome(span, err)
	return err
}

// outcomeError reports a nil *Failure stored in an error interface as no
// error at all.
func outcomeError(err error) error {
	if f, ok := err.(*Failure); ok && f == nil {
		return nil
	}
	return err
}

// RecordOutcome ends span with status OK when err is nil, otherwise with
// status ERROR and an exception event describing err. Ending an already ended
// span is a no-op.
func (t *Tracer) RecordOutcome(span *Span, err error) {
	if span == nil {
		return
	}
	if err = outcomeError(err); err == nil {
		t.end(span, Status{Code: StatusOK})
		return
	}

	attrs := map[string]interface{}{
		AttrExceptionType:    fmt.Sprintf("%T", err),
		AttrExceptionMessage: err.Error(),
	}
	var f *Failure
	if errors.As(err, &f) && f != nil {
		attrs[AttrHTTPStatusCode] = f.Code()
		span.SetAttribute(AttrHTTPStatusCode, f.Code())
	}
	span.AddEvent(EventException, attrs)
	t.end(span, Status{Code: StatusError, Message: err.Error()})
}

// RecordPanic ends span with status ERROR for a recovered panic value.
func (t *Tracer) RecordPanic(span *Span, recovered interface{}) {
	if span == nil {
		return
	}
	msg := fmt.Sprint(recovered)
	span.AddEvent(EventException, map[string]interface{}{
		AttrExceptionType:       fmt.Sprintf("%T", recovered),
		AttrExceptionMessage:    msg,
		AttrExceptionStacktrace: string(debug.Stack()),
	})
	t.end(span, Status{Code: StatusError, Message: msg})
}

func (t *Tracer) end(span *Span, status Status) {
	data, ok := span.end(status)
	if !ok {
		return
	}
	t.metrics.spansEnded.WithLabelValues(data.Kind.String(), data.Status.Code.String()).Inc()
	t.export(data)
}

// export never lets an exporter failure reach the caller.
func (t *Tracer) export(data SpanData) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.exportFailures.Inc()
			t.logger.Error("span exporter panicked",
				zap.String("trace_id", data.TraceContext.TraceID.String()),
				zap.String("span_id", data.TraceContext.SpanID.String()),
				zap.Any("panic", r),
			)
		}
	}()
	if t.closed.Load() {
		t.metrics.exportFailures.Inc()
		t.logger.Warn("unable to export span",
			zap.String("trace_id", data.TraceContext.TraceID.String()),
			zap.String("span_id", data.TraceContext.SpanID.String()),
			zap.Error(ErrShutdown),
		)
		return
	}
	if err := t.exporter.ExportSpans(context.Background(), []SpanData{data}); err != nil {
		t.metrics.exportFailures.Inc()
		t.logger.Warn("unable to export span",
			zap.String("trace_id", data.TraceContext.TraceID.String()),
			zap.String("span_id", data.TraceContext.SpanID.String()),
			zap.Error(err),
		)
	}
}

// Shutdown flushes and closes the exporter. Spans ending afterwards are
// dropped and logged. Only the first call reaches the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	t.shutdownOnce.Do(func() {
		t.closed.Store(true)
		t.shutdownErr = t.exporter.Shutdown(ctx)
	})
	return t.shutdownErr
}
