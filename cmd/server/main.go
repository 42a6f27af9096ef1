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

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tetratelabs/run"
	"github.com/tetratelabs/run/pkg/signal"

	"github.com/basvanbeek/tracelink/internal/service"
	pkghttp "github.com/basvanbeek/tracelink/pkg/http"
	"github.com/basvanbeek/tracelink/pkg/logging"
	pkgobs "github.com/basvanbeek/tracelink/pkg/observability"
	pkgskywalking "github.com/basvanbeek/tracelink/pkg/observability/skywalking"
	pkgzipkin "github.com/basvanbeek/tracelink/pkg/observability/zipkin"
	"github.com/basvanbeek/tracelink/pkg/tracing"
)

const defaultHTTPListenAddress = ":8000"

func main() {
	// we take our defaults from the environment as we need this information
	// to be available prior to run.Group bootstrap.
	env, err := pkgobs.LoadEnvironment()
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(-1)
	}

	g := run.Group{
		Name:     env.ServiceName,
		HelpText: "HTTP service linking browser and backend spans into one trace",
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svcLogging := &logging.Service{}
	svcObs := &pkgobs.Service{
		SpanExporter: env.Exporter,
		ServiceName:  env.ServiceName,
		Logging:      svcLogging,
		Registerer:   registry,
		Exporters: []pkgobs.ExporterService{
			&pkgzipkin.Service{
				Servicename: env.ServiceName,
				Address:     env.ZipkinEndpoint,
				Token:       env.ZipkinToken,
			},
			&pkgskywalking.Service{
				Servicename:         env.ServiceName,
				ServiceInstanceName: env.InstanceName,
				Address:             env.SkywalkingAddress,
				Token:               env.SkywalkingToken,
			},
		},
	}
	svcBackground := &tracing.Background{}
	svcEndpoints := &service.Endpoints{
		ServiceName:   env.ServiceName,
		Observability: svcObs,
		Background:    svcBackground,
		Gatherer:      registry,
	}
	svcHTTP := &pkghttp.Service{
		ListenAddress: defaultHTTPListenAddress,
		Logging:       svcLogging,
	}

	// Units are stopped in registration order: the HTTP server stops
	// accepting requests, background tasks are drained and finally the
	// exporter is flushed.
	g.Register(
		new(signal.Handler),
		svcLogging,
		run.NewPreRunner("tracer", func() error {
			svcBackground.Tracer = svcObs.Tracer()
			return nil
		}),
		svcEndpoints,
		svcHTTP,
		svcBackground,
		svcObs,
		run.NewPreRunner(env.ServiceName, func() error {
			svcHTTP.Handler = svcEndpoints.Handler()
			return nil
		}),
	)

	if err := g.Run(); err != nil {
		fmt.Printf("%s exit: %v\n", g.Name, err)
		if !errors.Is(err, run.ErrRequestedShutdown) {
			// We had an actual fatal error.
			os.Exit(-1)
		}
	}
}
