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

package tracing

import (
	"context"

	"go.uber.org/zap"
)

// Exporter receives finished spans. Implementations own batching, retries and
// delivery; the tracer never waits on or retries an export.
type Exporter interface {
	// ExportSpans hands over finished spans.
	ExportSpans(ctx context.Context, spans []SpanData) error
	// Shutdown flushes pending spans and releases resources.
	Shutdown(ctx context.Context) error
}

// NoopExporter discards all spans. It is used when tracing is disabled, e.g.
// due to missing exporter credentials.
type NoopExporter struct{}

// ExportSpans implements Exporter.
func (NoopExporter) ExportSpans(context.Context, []SpanData) error { return nil }

// Shutdown implements Exporter.
func (NoopExporter) Shutdown(context.Context) error { return nil }

// LogExporter writes every finished span as a structured log line.
type LogExporter struct {
	Logger *zap.Logger
}

// ExportSpans implements Exporter.
func (e LogExporter) ExportSpans(_ context.Context, spans []SpanData) error {
	for _, span := range spans {
		fields := []zap.Field{
			zap.String("trace_id", span.TraceContext.TraceID.String()),
			zap.String("span_id", span.TraceContext.SpanID.String()),
			zap.String("name", span.Name),
			zap.Stringer("kind", span.Kind),
			zap.Duration("duration", span.Duration()),
			zap.Any("attributes", span.Attributes),
		}
		if span.HasParent() {
			fields = append(fields, zap.String("parent_id", span.ParentSpanID.String()))
		}
		if span.Status.Code == StatusError {
			e.Logger.Warn("span completed with error",
				append(fields, zap.String("status", span.Status.Message))...)
			continue
		}
		e.Logger.Info("span completed", fields...)
	}
	return nil
}

// Shutdown implements Exporter.
func (e LogExporter) Shutdown(context.Context) error {
	_ = e.Logger.Sync()
	return nil
}
