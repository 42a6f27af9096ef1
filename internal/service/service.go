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
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"

	"github.com/basvanbeek/tracelink/pkg"
	"github.com/basvanbeek/tracelink/pkg/client"
	"github.com/basvanbeek/tracelink/pkg/observability"
	"github.com/basvanbeek/tracelink/pkg/tracing"
)

const (
	flagDuration       = "ep-duration"
	flagErrors         = "ep-errors"
	flagHandleFailures = "ep-handle-failures"

	errCallService    pkg.Error = "invalid or no downstream service set"
	errPercentage     pkg.Error = "expected percentage value between 0 and 100"
	errDuration       pkg.Error = "expected a zero or positive duration"
	errStatusCode     pkg.Error = "expected a 4xx or 5xx status code"
	errInternal       pkg.Error = "internal service failure occurred"
	errRequestID      pkg.Error = "invalid request id"
	errHandleFailures pkg.Error = "expected boolean value for handling failures"
)

// Endpoints implements a run.Config compatible group of Endpoints which will
// register themselves on the provided http service, using the provided
// tracer to instrument themselves.
type Endpoints struct {
	// dependencies
	Observability observability.Tracerer
	Background    *tracing.Background
	Gatherer      prometheus.Gatherer

	ServiceName string

	handler http.Handler
	tracer  *tracing.Tracer
	client  *client.Client

	// service globals protected by mutex mtx
	mtx            sync.RWMutex
	errors         int32
	duration       time.Duration
	handleFailures bool
}

// Name implements run.Unit.
func (ep *Endpoints) Name() string {
	return "endpoints"
}

// FlagSet implements run.Config.
func (ep *Endpoints) FlagSet() *run.FlagSet {
	flags := run.NewFlagSet("Endpoint options")

	flags.Int32Var(&ep.errors, flagErrors, ep.errors,
		`Percentage of errors on traced handlers`)

	flags.DurationVar(&ep.duration, flagDuration, ep.duration,
		`Added latency of traced handlers`)

	flags.BoolVar(&ep.handleFailures, flagHandleFailures, ep.handleFailures,
		`Handle downstream failures when calling services and return OK to requestor`)

	return flags
}

// Validate implements run.Config.
func (ep *Endpoints) Validate() error {
	var mErr error

	if ep.errors < 0 || ep.errors > 100 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, flagErrors, errPercentage),
		)
	}
	if ep.duration < 0 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, flagDuration, errDuration),
		)
	}

	return mErr
}

// PreRun implements run.PreRunner.
func (ep *Endpoints) PreRun() error {
	if ep.Observability == nil || ep.Observability.Tracer() == nil {
		return errors.New("missing tracer to attach to")
	}
	if ep.Background == nil {
		return errors.New("missing background task set")
	}
	ep.tracer = ep.Observability.Tracer()
	ep.client = client.New(ep.tracer)

	gatherer := ep.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// create our service router
	router := mux.NewRouter()
	router.Methods("GET").Path("/metrics").Handler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	api := router.PathPrefix("/").Subrouter()
	api.Use(tracing.Middleware(ep.tracer, "request-id", ep.requestID))
	api.Methods("GET").Path("/hello/{name}").Handler(tracing.Handler(ep.tracer, "hello", ep.hello))
	api.Methods("GET").Path("/fail/{code}").Handler(tracing.Handler(ep.tracer, "fail", ep.failure))
	api.Methods("GET").Path("/panic").Handler(tracing.Handler(ep.tracer, "panic", ep.crash))
	api.Methods("GET").Path("/background/{duration}").Handler(tracing.Handler(ep.tracer, "background", ep.background))
	api.Methods("GET").Path("/errors/{percentage}").Handler(tracing.Handler(ep.tracer, "set-errors", ep.setErrors))
	api.Methods("GET").Path("/latency/{duration}").Handler(tracing.Handler(ep.tracer, "set-latency", ep.setLatency))
	api.Methods("GET").Path("/graceful/{handleFailures}").Handler(tracing.Handler(ep.tracer, "set-handle-failures", ep.setHandleFailures))
	api.Methods("GET").PathPrefix("/call/{service}").Handler(tracing.Handler(ep.tracer, "call", ep.call))

	ep.handler = router

	return nil
}

// Handler returns an HTTP handler that can be attached to an HTTP service.
// The handler holds a router to the endpoints with the sub handlers.
func (ep *Endpoints) Handler() http.Handler {
	return ep.handler
}

var (
	_ run.Config    = (*Endpoints)(nil)
	_ run.PreRunner = (*Endpoints)(nil)
)
