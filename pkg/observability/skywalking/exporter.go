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

package skywalking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SkyAPM/go2sky"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/basvanbeek/tracelink/pkg/tracing"
)

// tags carrying the W3C identifiers of a replayed span
const (
	TagTraceID  = "w3c.trace_id"
	TagSpanID   = "w3c.span_id"
	TagParentID = "w3c.parent_id"
	TagKind     = "span.kind"
	TagStart    = "span.start"
	TagDuration = "span.duration_ms"
)

// Exporter replays finished spans as go2sky local spans. Skywalking keeps
// its own segment identifiers, so the W3C identifiers travel as tags.
//
// go2sky stamps a replayed span with the time of the replay and offers no way
// to set its start, so SkyWalking's own start times and durations are not
// meaningful. The recorded start and duration are sent as the span.start and
// span.duration_ms tags instead.
type Exporter struct {
	tracer   *go2sky.Tracer
	reporter go2sky.Reporter
	tags     map[string]string

	mu     sync.RWMutex
	closed bool
}

var _ tracing.Exporter = (*Exporter)(nil)

// NewExporter returns an Exporter replaying spans on tracer. The reporter is
// closed on Shutdown.
func NewExporter(tracer *go2sky.Tracer, rep go2sky.Reporter, tags map[string]string) *Exporter {
	return &Exporter{tracer: tracer, reporter: rep, tags: tags}
}

// ExportSpans implements tracing.Exporter.
func (e *Exporter) ExportSpans(_ context.Context, spans []tracing.SpanData) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errors.Wrapf(tracing.ErrShutdown, "dropping %d skywalking spans", len(spans))
	}

	var mErr *multierror.Error
	for _, data := range spans {
		if err := e.replay(data); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("span %s: %w", data.TraceContext.SpanID, err))
		}
	}
	return mErr.ErrorOrNil()
}

func (e *Exporter) replay(data tracing.SpanData) error {
	span, _, err := e.tracer.CreateLocalSpan(context.Background(), go2sky.WithOperationName(data.Name))
	if err != nil {
		return err
	}

	for k, v := range e.tags {
		span.Tag(go2sky.Tag(k), v)
	}
	span.Tag(TagTraceID, data.TraceContext.TraceID.String())
	span.Tag(TagSpanID, data.TraceContext.SpanID.String())
	if data.HasParent() {
		span.Tag(TagParentID, data.ParentSpanID.String())
	}
	span.Tag(TagKind, data.Kind.String())
	span.Tag(TagStart, data.StartTime.UTC().Format(time.RFC3339Nano))
	span.Tag(TagDuration, fmt.Sprintf("%.3f", float64(data.Duration())/float64(time.Millisecond)))

	keys := make([]string, 0, len(data.Attributes))
	for k := range data.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		span.Tag(go2sky.Tag(k), fmt.Sprint(data.Attributes[k]))
	}

	for _, event := range data.Events {
		fields := []string{"event", event.Name}
		for k, v := range event.Attributes {
			fields = append(fields, k, fmt.Sprint(v))
		}
		span.Log(event.Time, fields...)
	}
	if data.Status.Code == tracing.StatusError {
		span.Error(data.EndTime, "message", data.Status.Message)
	}
	span.End()
	return nil
}

// Shutdown implements tracing.Exporter. The reporter is closed once.
func (e *Exporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.reporter != nil {
		e.reporter.Close()
	}
	return nil
}
