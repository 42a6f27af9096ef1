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
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/basvanbeek/tracelink/pkg/traceparent"
)

// Kind describes the relationship of a span to its remote peers.
type Kind int

// Supported span kinds.
const (
	KindInternal Kind = iota
	KindServer
	KindClient
	KindProducer
	KindConsumer
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindServer:
		return "SERVER"
	case KindClient:
		return "CLIENT"
	case KindProducer:
		return "PRODUCER"
	case KindConsumer:
		return "CONSUMER"
	default:
		return "INTERNAL"
	}
}

// StatusCode is the final state of a span.
type StatusCode int

// Span status codes.
const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

// String implements fmt.Stringer.
func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	default:
		return "UNSET"
	}
}

// Status holds the status code and, for errors, a description.
type Status struct {
	Code    StatusCode
	Message string
}

// Event is a timestamped annotation on a span.
type Event struct {
	Name       string
	Time       time.Time
	Attributes map[string]interface{}
}

// Attribute and event names shared by the span factories.
const (
	EventException = "exception"

	AttrExceptionMessage    = "exception.message"
	AttrExceptionType       = "exception.type"
	AttrExceptionStacktrace = "exception.stacktrace"
	AttrHTTPStatusCode      = "http.status_code"
	AttrBackground          = "background"
)

// SpanData is the immutable snapshot of a finished span handed to exporters.
// Attribute values are always one of string, bool, int64 or float64.
type SpanData struct {
	Name              string
	Kind              Kind
	TraceContext      traceparent.TraceContext
	ParentSpanID      traceparent.SpanID
	StartTime         time.Time
	EndTime           time.Time
	Status            Status
	Attributes        map[string]interface{}
	Events            []Event
	DroppedAttributes int
	DroppedEvents     int
}

// HasParent reports whether the span was started as a child.
func (d SpanData) HasParent() bool {
	return d.ParentSpanID.IsValid()
}

// Duration returns the elapsed time of the span.
func (d SpanData) Duration() time.Duration {
	return d.EndTime.Sub(d.StartTime)
}

// Span is a named, timed unit of work. All methods are safe for concurrent
// use; mutations after End are ignored.
type Span struct {
	tracer *Tracer
	tc     traceparent.TraceContext

	mu    sync.Mutex
	data  SpanData
	ended bool
}

// Context returns the trace context identifying this span.
func (s *Span) Context() traceparent.TraceContext {
	return s.tc
}

// TraceID returns the hex trace identifier.
func (s *Span) TraceID() string {
	return s.tc.TraceID.String()
}

// SpanID returns the hex span identifier.
func (s *Span) SpanID() string {
	return s.tc.SpanID.String()
}

// Name returns the span name.
func (s *Span) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Name
}

// SetName updates the span name.
func (s *Span) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.data.Name = name
	}
}

// SetAttribute sets key to value, overwriting an existing value. Values are
// coerced to string, bool, int64 or float64; unsupported types are dropped
// and false is returned.
func (s *Span) SetAttribute(key string, value interface{}) bool {
	v, ok := coerce(value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	if !ok {
		s.data.DroppedAttributes++
		s.tracer.metrics.droppedAttributes.Inc()
		return false
	}
	if _, exists := s.data.Attributes[key]; !exists && len(s.data.Attributes) >= s.tracer.limits.MaxAttributes {
		s.data.DroppedAttributes++
		s.tracer.metrics.droppedAttributes.Inc()
		return false
	}
	s.data.Attributes[key] = v
	return true
}

// SetAttributes sets all provided attributes.
func (s *Span) SetAttributes(attrs map[string]interface{}) {
	for k, v := range attrs {
		s.SetAttribute(k, v)
	}
}

// Attribute returns the current value for key.
func (s *Span) Attribute(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.Attributes[key]
	return v, ok
}

// AddEvent appends a named event with optional attributes.
func (s *Span) AddEvent(name string, attrs map[string]interface{}) {
	s.addEvent(name, s.tracer.clock.Now(), attrs)
}

// RecordError adds an exception event for err without changing the status.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.AddEvent(EventException, map[string]interface{}{
		AttrExceptionType:    fmt.Sprintf("%T", err),
		AttrExceptionMessage: err.Error(),
	})
}

// IsEnded reports whether the span has been finalized.
func (s *Span) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Span) addEvent(name string, ts time.Time, attrs map[string]interface{}) {
	ev := Event{Name: name, Time: ts}
	if len(attrs) > 0 {
		ev.Attributes = make(map[string]interface{}, len(attrs))
		for k, v := range attrs {
			if cv, ok := coerce(v); ok {
				ev.Attributes[k] = cv
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if len(s.data.Events) >= s.tracer.limits.MaxEvents {
		s.data.DroppedEvents++
		return
	}
	s.data.Events = append(s.data.Events, ev)
}

// end finalizes the span and returns its snapshot. Only the first call
// succeeds.
func (s *Span) end(status Status) (SpanData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return SpanData{}, false
	}
	s.ended = true
	s.data.Status = status
	s.data.EndTime = s.tracer.clock.Now()

	snapshot := s.data
	snapshot.Attributes = make(map[string]interface{}, len(s.data.Attributes))
	for k, v := range s.data.Attributes {
		snapshot.Attributes[k] = v
	}
	snapshot.Events = append([]Event(nil), s.data.Events...)
	return snapshot, true
}

func coerce(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case string, bool, int64, float64:
		return v, true
	case time.Duration:
		return v.String(), true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint:
		return coerceUint(uint64(v)), true
	case uint64:
		return coerceUint(v), true
	case float32:
		return float64(v), true
	case error:
		return v.Error(), true
	case fmt.Stringer:
		return v.String(), true
	}
	return nil, false
}

func coerceUint(v uint64) interface{} {
	if v > math.MaxInt64 {
		return float64(v)
	}
	return int64(v)
}
