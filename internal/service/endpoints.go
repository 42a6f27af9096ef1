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

package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/basvanbeek/tracelink/pkg/client"
	"github.com/basvanbeek/tracelink/pkg/observability"
	"github.com/basvanbeek/tracelink/pkg/tracing"
)

// span attributes set by the endpoints
const (
	attrRequestID  = "request.id"
	attrHelloName  = "hello.name"
	attrDuration   = "task.duration"
	attrDownstream = "downstream.url"
)

// requestID makes sure every request carries an X-Request-Id, generating one
// when the caller did not provide it.
func (ep *Endpoints) requestID(w http.ResponseWriter, r *http.Request, span *tracing.Span) *tracing.Failure {
	id := r.Header.Get(observability.BaggageRequestID)
	if id == "" {
		id = uuid.NewString()
		r.Header.Set(observability.BaggageRequestID, id)
	} else if _, err := uuid.Parse(id); err != nil {
		return tracing.NewFailure(http.StatusBadRequest, errRequestID.Error())
	}
	span.SetAttribute(attrRequestID, id)
	w.Header().Set(observability.BaggageRequestID, id)
	return nil
}

// simulate applies the configured latency and error percentage.
func (ep *Endpoints) simulate(ctx context.Context) *tracing.Failure {
	ep.mtx.RLock()
	d := ep.duration
	e := ep.errors
	ep.mtx.RUnlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return tracing.NewFailure(http.StatusServiceUnavailable, ctx.Err().Error())
		}
	}
	if e > 0 && rand.Int31n(100) < e {
		return tracing.NewFailure(http.StatusInternalServerError, errInternal.Error())
	}
	return nil
}

// hello greets name, tracing the lookup and composition as nested internal
// spans.
func (ep *Endpoints) hello(ctx context.Context, r *http.Request, span *tracing.Span) tracing.Outcome[response] {
	name := mux.Vars(r)["name"]
	span.SetAttribute(attrHelloName, name)

	var greeting string
	err := ep.tracer.Trace(ctx, "compose-greeting", func(ctx context.Context, _ *tracing.Span) error {
		if err := ep.tracer.Trace(ctx, "lookup-user", func(ctx context.Context, _ *tracing.Span) error {
			return ep.simulate(ctx)
		}); err != nil {
			return err
		}
		greeting = fmt.Sprintf("hello, %s", name)
		return nil
	})
	if err != nil {
		var f *tracing.Failure
		if errors.As(err, &f) {
			return tracing.Fail[response](f)
		}
		return fail(http.StatusInternalServerError, errInternal)
	}

	return ep.ok(span, greeting, nil)
}

// failure returns a domain failure with the requested status code.
func (ep *Endpoints) failure(_ context.Context, r *http.Request, _ *tracing.Span) tracing.Outcome[response] {
	code, err := strconv.Atoi(mux.Vars(r)["code"])
	if err != nil || code < 400 || code > 599 {
		return badRequest(errStatusCode)
	}
	return tracing.Fail[response](tracing.Failuref(code, "requested failure with status %d", code))
}

// crash emulates an unexpected fault inside traced work.
func (ep *Endpoints) crash(context.Context, *http.Request, *tracing.Span) tracing.Outcome[response] {
	panic("requested panic")
}

// background schedules a detached task running for the provided duration.
// With ?fail=true the task returns an error once done, which is recorded on
// the task span only.
func (ep *Endpoints) background(ctx context.Context, r *http.Request, span *tracing.Span) tracing.Outcome[response] {
	d, ok := parseDuration(mux.Vars(r)["duration"])
	if !ok {
		return badRequest(errDuration)
	}
	shouldFail, _ := strconv.ParseBool(r.URL.Query().Get("fail"))

	ep.Background.Detach(ctx, "background-task", func(ctx context.Context, task *tracing.Span) error {
		task.SetAttribute(attrDuration, d)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
		if shouldFail {
			return errors.New("background task failed")
		}
		return nil
	})

	return ep.ok(span, fmt.Sprintf("background task scheduled for %s", d), nil)
}

// setErrors allows one to set the percentage of error responses this service
// will generate on traced handlers.
func (ep *Endpoints) setErrors(_ context.Context, r *http.Request, span *tracing.Span) tracing.Outcome[response] {
	i, err := strconv.Atoi(mux.Vars(r)["percentage"])
	if err != nil || i < 0 || i > 100 {
		return badRequest(errPercentage)
	}

	ep.mtx.Lock()
	ep.errors = int32(i)
	ep.mtx.Unlock()

	return ep.ok(span, fmt.Sprintf("errors percentage set to: %d%%", i), nil)
}

// setLatency allows one to set the latency this service will add to traced
// handlers. Raw numbers are taken as milliseconds.
func (ep *Endpoints) setLatency(_ context.Context, r *http.Request, span *tracing.Span) tracing.Outcome[response] {
	d, ok := parseDuration(mux.Vars(r)["duration"])
	if !ok {
		return badRequest(errDuration)
	}

	ep.mtx.Lock()
	ep.duration = d
	ep.mtx.Unlock()

	return ep.ok(span, fmt.Sprintf("duration set to: %s", d.String()), nil)
}

// setHandleFailures allows one to set behavior of this service's call handler.
// If set to true, a downstream error will not cascade into a failure by this
// service. Instead, it will mimick a service that is resilient to downstream
// issues and can report back successfully.
func (ep *Endpoints) setHandleFailures(_ context.Context, r *http.Request, span *tracing.Span) tracing.Outcome[response] {
	var h bool
	switch strings.ToLower(mux.Vars(r)["handleFailures"]) {
	case "1", "on", "yes", "y", "true", "t":
		h = true
	case "0", "off", "no", "n", "false", "f":
		h = false
	default:
		return badRequest(errHandleFailures)
	}

	ep.mtx.Lock()
	ep.handleFailures = h
	ep.mtx.Unlock()

	return ep.ok(span, fmt.Sprintf("handle failures set to: %t", h), nil)
}

// call strips the first /call/service:port directive from the path and calls
// the remaining path on the targeted service, propagating the trace context.
// This allows us to hop from service to service by providing path chunks
// referencing the services.
//
// Example path: /call/svcf/call/svcd/hello/world
// This path will hop from svcf to svcd, where svcd will receive a
// /hello/world request to handle.
func (ep *Endpoints) call(ctx context.Context, r *http.Request, span *tracing.Span) tracing.Outcome[response] {
	host := mux.Vars(r)["service"]
	if host == "" {
		return badRequest(errCallService)
	}
	if f := ep.simulate(ctx); f != nil {
		return tracing.Fail[response](f)
	}

	ep.mtx.RLock()
	h := ep.handleFailures
	ep.mtx.RUnlock()

	target := fmt.Sprintf("http://%s%s", host, strings.TrimPrefix(r.URL.Path, "/call/"+host))
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	span.SetAttribute(attrDownstream, target)

	res, err := ep.client.Do(ctx, client.Request{
		Method: http.MethodGet,
		URL:    target,
		Header: http.Header{observability.BaggageRequestID: []string{r.Header.Get(observability.BaggageRequestID)}},
		Span:   "GET " + host,
	})
	if err != nil {
		if h {
			// mimick a service that handles a failed downstream call
			// gracefully and still reports success itself.
			return ep.ok(span, fmt.Sprintf("%s called %s and got error return: %v",
				ep.ServiceName, target, err), nil)
		}
		var serr *client.StatusError
		if errors.As(err, &serr) {
			return tracing.Fail[response](tracing.Failuref(serr.StatusCode,
				"%s returned %s", host, serr.Error()))
		}
		return tracing.Fail[response](tracing.Failuref(http.StatusBadGateway,
			"unable to reach %s", host))
	}

	var data interface{} = res.JSON
	if data == nil {
		data = res.Text
	}
	return ep.ok(span, fmt.Sprintf("called %s", target), data)
}

func parseDuration(s string) (time.Duration, bool) {
	d, err := time.ParseDuration(s)
	if err != nil {
		// not a duration string, let's see if it is a raw number...
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		d = time.Duration(i) * time.Millisecond
	}
	return d, d >= 0
}
