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

package zipkin

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/openzipkin/zipkin-go/model"
	"github.com/openzipkin/zipkin-go/reporter"
	"github.com/pkg/errors"

	"github.com/basvanbeek/tracelink/pkg/tracing"
)

// Exporter converts finished spans to the Zipkin v2 model and hands them to a
// Zipkin reporter, which owns batching and delivery.
type Exporter struct {
	reporter reporter.Reporter
	endpoint *model.Endpoint
	tags     map[string]string

	mu     sync.RWMutex
	closed bool
}

var _ tracing.Exporter = (*Exporter)(nil)

// NewExporter returns an Exporter sending to rep. Every span is reported with
// the local endpoint ep and carries tags.
func NewExporter(rep reporter.Reporter, ep *model.Endpoint, tags map[string]string) *Exporter {
	return &Exporter{reporter: rep, endpoint: ep, tags: tags}
}

// ExportSpans implements tracing.Exporter. Spans are refused once the
// reporter is closed.
func (e *Exporter) ExportSpans(_ context.Context, spans []tracing.SpanData) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errors.Wrapf(tracing.ErrShutdown, "dropping %d zipkin spans", len(spans))
	}
	for _, span := range spans {
		e.reporter.Send(SpanModel(span, e.endpoint, e.tags))
	}
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
	return errors.Wrap(e.reporter.Close(), "unable to close zipkin reporter")
}

// SpanModel converts a finished span to its Zipkin representation.
func SpanModel(span tracing.SpanData, ep *model.Endpoint, tags map[string]string) model.SpanModel {
	tc := span.TraceContext
	sampled := tc.Sampled

	m := model.SpanModel{
		SpanContext: model.SpanContext{
			TraceID: model.TraceID{
				High: binary.BigEndian.Uint64(tc.TraceID[:8]),
				Low:  binary.BigEndian.Uint64(tc.TraceID[8:]),
			},
			ID:      model.ID(binary.BigEndian.Uint64(tc.SpanID[:])),
			Sampled: &sampled,
		},
		Name:          span.Name,
		Kind:          kind(span.Kind),
		Timestamp:     span.StartTime,
		Duration:      span.Duration(),
		LocalEndpoint: ep,
		Tags:          make(map[string]string, len(tags)+len(span.Attributes)+1),
	}
	if span.HasParent() {
		parentID := model.ID(binary.BigEndian.Uint64(span.ParentSpanID[:]))
		m.ParentID = &parentID
	}

	for k, v := range tags {
		m.Tags[k] = v
	}
	for k, v := range span.Attributes {
		m.Tags[k] = fmt.Sprint(v)
	}
	if span.Status.Code == tracing.StatusError {
		msg := span.Status.Message
		if msg == "" {
			msg = "true"
		}
		m.Tags["error"] = msg
	}

	for _, event := range span.Events {
		value := event.Name
		if msg, ok := event.Attributes[tracing.AttrExceptionMessage]; ok {
			value = fmt.Sprintf("%s: %v", event.Name, msg)
		}
		m.Annotations = append(m.Annotations, model.Annotation{
			Timestamp: event.Time,
			Value:     value,
		})
	}

	return m
}

func kind(k tracing.Kind) model.Kind {
	switch k {
	case tracing.KindServer:
		return model.Server
	case tracing.KindClient:
		return model.Client
	case tracing.KindProducer:
		return model.Producer
	case tracing.KindConsumer:
		return model.Consumer
	default:
		return model.Undetermined
	}
}
