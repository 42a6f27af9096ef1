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
	"net/http"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/basvanbeek/tracelink/pkg/traceparent"
)

// Work is request scoped work traced by RunRequestSpan.
type Work[T any] func(ctx context.Context, span *Span) Outcome[T]

// RunRequestSpan traces work as the handling of one inbound request.
//
// The incoming traceparent header is decoded (a new trace is started when it
// is missing or malformed) unless the carrier context already holds a span
// committed by RunMiddleware, in which case that span becomes the parent.
// The SERVER span identifiers are written to the response headers before work
// runs, and the span context is installed in the carrier.
//
// A successful Outcome ends the span OK. A failed Outcome ends the span ERROR
// and is returned with the trace identifiers filled in, with a nil error. A
// panic ends the span ERROR and is returned as *UnexpectedError, together with
// a generic 500 failure Outcome.
func RunRequestSpan[T any](tr *Tracer, c Carrier, name string, work Work[T], opts ...SpanOption) (out Outcome[T], err error) {
	ctx, span := startCarrierSpan(tr, c, name, opts)

	defer func() {
		if r := recover(); r != nil {
			tr.RecordPanic(span, r)
			tr.logger.Error("unexpected failure in traced request",
				zap.String("name", name),
				zap.String("trace_id", span.TraceID()),
				zap.String("span_id", span.SpanID()),
				zap.Any("panic", r),
			)
			ue := newUnexpectedError(span.Context(), r)
			out = Fail[T](ue.failure())
			err = ue
		}
	}()

	out = work(ctx, span)
	if f := out.Failure(); f != nil {
		annotated := f.withTrace(span.Context())
		tr.RecordOutcome(span, annotated)
		return Fail[T](annotated), nil
	}
	tr.RecordOutcome(span, nil)
	return out, nil
}

// startCarrierSpan starts the span for a request step and makes it visible in
// the response headers and the carrier context.
func startCarrierSpan(tr *Tracer, c Carrier, name string, opts []SpanOption) (context.Context, *Span) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if SpanFromContext(ctx) == nil {
		if tc, ok := traceparent.Decode(c.RequestHeader(traceparent.Header)); ok {
			ctx = ContextWithRemote(ctx, tc)
		}
	}

	ctx, span := tr.Start(ctx, name, append([]SpanOption{WithKind(KindServer)}, opts...)...)
	c.SetResponseHeader(HeaderTraceID, span.TraceID())
	c.SetResponseHeader(HeaderSpanID, span.SpanID())
	c.SetContext(ctx)
	return ctx, span
}

// Handler returns a net/http handler running work through RunRequestSpan and
// writing exactly one JSON response for the outcome.
func Handler[T any](tr *Tracer, name string, work func(ctx context.Context, r *http.Request, span *Span) Outcome[T], opts ...SpanOption) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := NewHTTPCarrier(w, r)
		out, err := RunRequestSpan(tr, c, name, func(ctx context.Context, span *Span) Outcome[T] {
			return work(ctx, c.Request(), span)
		}, opts...)
		WriteOutcome(w, out, err)
	})
}

// WriteOutcome writes the JSON response for the result of RunRequestSpan.
func WriteOutcome[T any](w http.ResponseWriter, out Outcome[T], err error) {
	if err != nil {
		WriteError(w, err)
		return
	}
	if f := out.Failure(); f != nil {
		WriteError(w, f)
		return
	}
	WriteJSON(w, http.StatusOK, out.Value())
}

type errorBody struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
	TraceID    string `json:"traceId,omitempty"`
	SpanID     string `json:"spanId,omitempty"`
}

// WriteError writes the JSON response for a failure returned by one of the
// span factories.
func WriteError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *Failure:
		if e == nil {
			WriteError(w, nil)
			return
		}
		normalized := *e
		normalized.StatusCode = e.Code()
		WriteJSON(w, normalized.StatusCode, &normalized)
	case *UnexpectedError:
		WriteJSON(w, e.StatusCode(), errorBody{
			Message:    e.Error(),
			StatusCode: e.StatusCode(),
			TraceID:    e.TraceID,
			SpanID:     e.SpanID,
		})
	default:
		WriteJSON(w, http.StatusInternalServerError, errorBody{
			Message:    http.StatusText(http.StatusInternalServerError),
			StatusCode: http.StatusInternalServerError,
		})
	}
}

// WriteJSON encodes v as the response body with the provided status code.
func WriteJSON(w http.ResponseWriter, code int, v interface{}) {
	body, err := sonic.Marshal(v)
	if err != nil {
		code = http.StatusInternalServerError
		body = []byte(`{"message":"unable to encode response","statusCode":500}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
