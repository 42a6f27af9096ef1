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

	"go.uber.org/zap"
)

// Step is a traced middleware step. Returning a Failure terminates the
// request.
type Step func(ctx context.Context, span *Span) *Failure

// RunMiddleware traces step like RunRequestSpan does for handlers. On success
// the step's span stays committed as the carrier context, so a handler traced
// later for the same request becomes its child. A failure is returned as
// *Failure and a panic as *UnexpectedError; both must terminate the chain.
func RunMiddleware(tr *Tracer, c Carrier, name string, step Step, opts ...SpanOption) (err error) {
	ctx, span := startCarrierSpan(tr, c, name, opts)

	defer func() {
		if r := recover(); r != nil {
			tr.RecordPanic(span, r)
			tr.logger.Error("unexpected failure in traced middleware",
				zap.String("name", name),
				zap.String("trace_id", span.TraceID()),
				zap.String("span_id", span.SpanID()),
				zap.Any("panic", r),
			)
			err = newUnexpectedError(span.Context(), r)
		}
	}()

	if f := step(ctx, span); f != nil {
		annotated := f.withTrace(span.Context())
		tr.RecordOutcome(span, annotated)
		return annotated
	}
	tr.RecordOutcome(span, nil)
	return nil
}

// HTTPStep is a traced net/http middleware step. The request holds the step's
// span context.
type HTTPStep func(w http.ResponseWriter, r *http.Request, span *Span) *Failure

// Middleware returns a net/http middleware (usable as mux.MiddlewareFunc)
// running step through RunMiddleware. Failures are rendered as JSON and stop
// the chain; on success next receives the request carrying the step's span.
func Middleware(tr *Tracer, name string, step HTTPStep, opts ...SpanOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := NewHTTPCarrier(w, r)
			err := RunMiddleware(tr, c, name, func(_ context.Context, span *Span) *Failure {
				return step(w, c.Request(), span)
			}, opts...)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, c.Request())
		})
	}
}
