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

// Package client provides an HTTP client that propagates the current trace
// context to the services it calls.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/context/ctxhttp"

	"github.com/basvanbeek/tracelink/pkg"
	"github.com/basvanbeek/tracelink/pkg/traceparent"
	"github.com/basvanbeek/tracelink/pkg/tracing"
)

// span attributes set on CLIENT spans
const (
	AttrHTTPMethod = "http.method"
	AttrHTTPURL    = "http.url"
)

const (
	defaultTimeout = 30 * time.Second

	// MaxResponseBytes bounds the response body read by a Client unless
	// overridden with WithMaxResponseBytes.
	MaxResponseBytes int64 = 4 << 20

	// ErrResponseTooLarge is returned when a body exceeds the read bound.
	ErrResponseTooLarge pkg.Error = "response body too large"
)

// Request describes an outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Span, when set, opens a CLIENT span with this name around the call. The
	// span is a child of the span in the calling context, or a new root.
	Span string
}

// Response is the result of a successful (2xx) call.
type Response struct {
	StatusCode int
	Header     http.Header
	// JSON holds the decoded body when it is valid JSON.
	JSON interface{}
	// Text holds the raw body when it is not valid JSON.
	Text string
	// TraceParent is the header value sent with the request.
	TraceParent string
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds the duration of a single call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithMaxResponseBytes bounds the response body size. Values of zero or less
// keep the default.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithTransport replaces the private pooled transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.http.Transport = rt
		}
	}
}

// Client issues traced HTTP calls.
type Client struct {
	tracer  *tracing.Tracer
	http    *http.Client
	logger  *zap.Logger
	maxBody int64
}

// New returns a Client using tr for its spans. The client owns a pooled
// transport that is not shared with http.DefaultTransport.
func New(tr *tracing.Tracer, opts ...Option) *Client {
	if tr == nil {
		tr = tracing.New()
	}
	c := &Client{
		tracer: tr,
		http: &http.Client{
			Transport: cleanhttp.DefaultPooledTransport(),
			Timeout:   defaultTimeout,
		},
		logger:  tr.Logger(),
		maxBody: MaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do issues req. The outbound traceparent header is derived from the CLIENT
// span opened for req.Span, else from the span held by ctx, else from a newly
// minted root context.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var span *tracing.Span
	tc, ok := tracing.TraceContextFromContext(ctx)
	switch {
	case req.Span != "":
		ctx, span = c.tracer.Start(ctx, req.Span,
			tracing.WithKind(tracing.KindClient),
			tracing.WithAttribute(AttrHTTPMethod, method),
			tracing.WithAttribute(AttrHTTPURL, req.URL),
		)
		tc = span.Context()
	case !ok:
		tc = c.tracer.NewRootContext()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequest(method, req.URL, body)
	if err != nil {
		c.tracer.RecordOutcome(span, err)
		return nil, errors.Wrap(err, "unable to create request")
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	traceparent.Inject(httpReq.Header, tc)

	res, err := ctxhttp.Do(ctx, c.http, httpReq)
	if err != nil {
		c.tracer.RecordOutcome(span, err)
		c.logger.Debug("outbound call failed",
			zap.String("url", req.URL),
			zap.String("trace_id", tc.TraceID.String()),
			zap.Error(err))
		return nil, errors.Wrapf(err, "%s %s", method, req.URL)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(res.Body, c.maxBody+1))
	if err != nil {
		c.tracer.RecordOutcome(span, err)
		return nil, errors.Wrap(err, "unable to read response body")
	}
	if int64(len(raw)) > c.maxBody {
		err = errors.Wrapf(ErrResponseTooLarge, "more than %d bytes from %s", c.maxBody, req.URL)
		c.tracer.RecordOutcome(span, err)
		return nil, err
	}
	if span != nil {
		span.SetAttribute(tracing.AttrHTTPStatusCode, res.StatusCode)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		serr := &StatusError{StatusCode: res.StatusCode, Body: string(raw)}
		c.tracer.RecordOutcome(span, serr)
		return nil, serr
	}

	out := &Response{
		StatusCode:  res.StatusCode,
		Header:      res.Header,
		TraceParent: tc.String(),
	}
	var decoded interface{}
	if len(raw) > 0 && sonic.Unmarshal(raw, &decoded) == nil {
		out.JSON = decoded
	} else {
		out.Text = string(raw)
	}

	c.tracer.RecordOutcome(span, nil)
	return out, nil
}

// Get issues a GET request to url.
func (c *Client) Get(ctx context.Context, url, spanName string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url, Span: spanName})
}

// PostJSON issues a POST request to url with v encoded as JSON body.
func (c *Client) PostJSON(ctx context.Context, url string, v interface{}, spanName string) (*Response, error) {
	body, err := sonic.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode request body")
	}
	return c.Do(ctx, Request{
		Method: http.MethodPost,
		URL:    url,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
		Span:   spanName,
	})
}

// Operation runs fn inside a CLIENT span representing one user initiated
// operation. Calls made by fn without their own span name carry this span's
// context.
func (c *Client) Operation(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.tracer.Trace(ctx, name, func(ctx context.Context, _ *tracing.Span) error {
		return fn(ctx)
	}, tracing.WithKind(tracing.KindClient))
}
