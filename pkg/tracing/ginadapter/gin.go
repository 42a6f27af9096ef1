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

// Package ginadapter adapts the span factories to gin handlers.
package ginadapter

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/basvanbeek/tracelink/pkg/tracing"
)

// Carrier is a tracing.Carrier for a gin request.
type Carrier struct {
	c *gin.Context
}

var _ tracing.Carrier = (*Carrier)(nil)

// NewCarrier returns a Carrier for c.
func NewCarrier(c *gin.Context) *Carrier {
	return &Carrier{c: c}
}

// Context implements tracing.Carrier.
func (g *Carrier) Context() context.Context {
	return g.c.Request.Context()
}

// SetContext implements tracing.Carrier.
func (g *Carrier) SetContext(ctx context.Context) {
	g.c.Request = g.c.Request.WithContext(ctx)
}

// RequestHeader implements tracing.Carrier.
func (g *Carrier) RequestHeader(key string) string {
	return g.c.GetHeader(key)
}

// SetResponseHeader implements tracing.Carrier.
func (g *Carrier) SetResponseHeader(key, value string) {
	g.c.Header(key, value)
}

// Middleware returns a gin middleware running step in a traced span. A
// failure aborts the chain with a JSON error response.
func Middleware(tr *tracing.Tracer, name string, step func(c *gin.Context, span *tracing.Span) *tracing.Failure, opts ...tracing.SpanOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := tracing.RunMiddleware(tr, NewCarrier(c), name, func(_ context.Context, span *tracing.Span) *tracing.Failure {
			return step(c, span)
		}, opts...)
		if err != nil {
			tracing.WriteError(c.Writer, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Handler returns a gin handler running work in a request scoped span and
// writing its outcome as JSON.
func Handler[T any](tr *tracing.Tracer, name string, work func(c *gin.Context, span *tracing.Span) tracing.Outcome[T], opts ...tracing.SpanOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := tracing.RunRequestSpan(tr, NewCarrier(c), name, func(_ context.Context, span *tracing.Span) tracing.Outcome[T] {
			return work(c, span)
		}, opts...)
		tracing.WriteOutcome(c.Writer, out, err)
	}
}
