// Package tracetest provides an in-memory Exporter for tests.
package tracetest

import (
	"context"
	"sync"

	"github.com/basvanbeek/tracelink/pkg/tracing"
)

// Recorder is an Exporter keeping every exported span in memory.
type Recorder struct {
	mu       sync.Mutex
	spans    []tracing.SpanData
	ends     map[string]int
	shutdown bool
	err      error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{ends: make(map[string]int)}
}

// FailWith makes subsequent exports return err after recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// ExportSpans implements tracing.Exporter.
func (r *Recorder) ExportSpans(_ context.Context, spans []tracing.SpanData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range spans {
		r.spans = append(r.spans, s)
		r.ends[s.TraceContext.SpanID.String()]++
	}
	return r.err
}

// Shutdown implements tracing.Exporter.
func (r *Recorder) Shutdown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = true
	return nil
}

// Spans returns a copy of all recorded spans in end order.
func (r *Recorder) Spans() []tracing.SpanData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tracing.SpanData(nil), r.spans...)
}

// Span returns the last recorded span with the given name.
func (r *Recorder) Span(name string) (tracing.SpanData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.spans) - 1; i >= 0; i-- {
		if r.spans[i].Name == name {
			return r.spans[i], true
		}
	}
	return tracing.SpanData{}, false
}

// EndCount returns how many times the span with the given hex id was
// exported.
func (r *Recorder) EndCount(spanID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ends[spanID]
}

// IsShutdown reports whether Shutdown was called.
func (r *Recorder) IsShutdown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdown
}
