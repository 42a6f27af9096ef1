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

// Package grpcadapter propagates trace context over gRPC metadata.
package grpcadapter

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/basvanbeek/tracelink/pkg/traceparent"
	"github.com/basvanbeek/tracelink/pkg/tracing"
)

// Carrier is a tracing.Carrier over the metadata of an inbound call.
type Carrier struct {
	ctx    context.Context
	md     metadata.MD
	logger *zap.Logger
}

var _ tracing.Carrier = (*Carrier)(nil)

// NewCarrier returns a Carrier reading incoming metadata from ctx.
func NewCarrier(ctx context.Context, logger *zap.Logger) *Carrier {
	md, _ := metadata.FromIncomingContext(ctx)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Carrier{ctx: ctx, md: md, logger: logger}
}

// Context implements tracing.Carrier.
func (c *Carrier) Context() context.Context {
	return c.ctx
}

// SetContext implements tracing.Carrier.
func (c *Carrier) SetContext(ctx context.Context) {
	c.ctx = ctx
}

// RequestHeader implements tracing.Carrier.
func (c *Carrier) RequestHeader(key string) string {
	if v := c.md.Get(strings.ToLower(key)); len(v) > 0 {
		return v[0]
	}
	return ""
}

// SetResponseHeader implements tracing.Carrier. Values are sent as gRPC
// response header metadata.
func (c *Carrier) SetResponseHeader(key, value string) {
	if err := grpc.SetHeader(c.ctx, metadata.Pairs(strings.ToLower(key), value)); err != nil {
		c.logger.Debug("unable to set response metadata", zap.String("key", key), zap.Error(err))
	}
}

// UnaryServerInterceptor traces every unary call in a SERVER span parented
// on the traceparent entry of the incoming metadata.
func UnaryServerInterceptor(tr *tracing.Tracer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		var handlerErr error
		out, err := tracing.RunRequestSpan(tr, NewCarrier(ctx, tr.Logger()), info.FullMethod,
			func(ctx context.Context, span *tracing.Span) tracing.Outcome[interface{}] {
				resp, err := handler(ctx, req)
				if err != nil {
					handlerErr = err
					st := status.Convert(err)
					return tracing.Fail[interface{}](tracing.NewFailure(httpStatus(st.Code()), st.Message()))
				}
				return tracing.Success(resp)
			})
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		if handlerErr != nil {
			return nil, handlerErr
		}
		return out.Value(), nil
	}
}

// UnaryClientInterceptor opens a CLIENT span for every outbound unary call
// and sends its context in the traceparent metadata entry.
func UnaryClientInterceptor(tr *tracing.Tracer) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx, span := tr.Start(ctx, method, tracing.WithKind(tracing.KindClient))
		ctx = withTraceParent(ctx, span.Context())

		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			st := status.Convert(err)
			tr.RecordOutcome(span, tracing.NewFailure(httpStatus(st.Code()), st.Message()))
			return err
		}
		tr.RecordOutcome(span, nil)
		return nil
	}
}

// withTraceParent replaces any traceparent entry of the outgoing metadata so
// exactly one value is sent.
func withTraceParent(ctx context.Context, tc traceparent.TraceContext) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	md.Set(traceparent.Header, tc.String())
	return metadata.NewOutgoingContext(ctx, md)
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Canceled:
		return 499
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
