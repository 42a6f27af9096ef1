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
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"

	"github.com/basvanbeek/tracelink/pkg"
	"github.com/basvanbeek/tracelink/pkg/client"
	"github.com/basvanbeek/tracelink/pkg/logging"
	pkgobs "github.com/basvanbeek/tracelink/pkg/observability"
	pkgskywalking "github.com/basvanbeek/tracelink/pkg/observability/skywalking"
	pkgzipkin "github.com/basvanbeek/tracelink/pkg/observability/zipkin"
)

const (
	flagTarget    = "target"
	flagPath      = "path"
	flagOperation = "operation"

	errTarget pkg.Error = "expected an absolute http(s) url"
	errPath   pkg.Error = "expected a path starting with /"
)

// operation performs a single traced user operation against a running
// server and stops the group once it completes.
type operation struct {
	Observability pkgobs.Tracerer
	Logging       pkgobs.Loggerer

	target string
	path   string
	name   string
}

func (o *operation) Name() string {
	return "operation"
}

func (o *operation) FlagSet() *run.FlagSet {
	if o.target == "" {
		o.target = "http://localhost:8000"
	}
	if o.path == "" {
		o.path = "/hello/world"
	}
	if o.name == "" {
		o.name = "user-click"
	}

	flags := run.NewFlagSet("Operation options")
	flags.StringVar(&o.target, flagTarget, o.target, `Base url of the server`)
	flags.StringVar(&o.path, flagPath, o.path, `Path to request on the server`)
	flags.StringVar(&o.name, flagOperation, o.name, `Name of the user operation span`)
	return flags
}

func (o *operation) Validate() error {
	var mErr error
	u, err := url.Parse(o.target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, flagTarget, errTarget))
	}
	if !strings.HasPrefix(o.path, "/") {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, flagPath, errPath))
	}
	return mErr
}

func (o *operation) Serve() error {
	logger := o.Logging.Logger().Named("client")
	c := client.New(o.Observability.Tracer())
	target := strings.TrimSuffix(o.target, "/") + o.path

	return c.Operation(context.Background(), o.name, func(ctx context.Context) error {
		res, err := c.Get(ctx, target, "GET "+o.path)
		if err != nil {
			logger.Error("operation failed", zap.String("url", target), zap.Error(err))
			return err
		}
		logger.Info("operation completed",
			zap.String("url", target),
			zap.Int("status", res.StatusCode),
			zap.String("traceparent", res.TraceParent),
			zap.String("trace_id", res.Header.Get("X-Trace-Id")),
			zap.Any("body", responseBody(res)),
		)
		return nil
	})
}

func (o *operation) GracefulStop() {}

func responseBody(res *client.Response) interface{} {
	if res.JSON != nil {
		return res.JSON
	}
	return res.Text
}

func main() {
	env, err := pkgobs.LoadEnvironment()
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(-1)
	}

	g := run.Group{
		Name:     "tracelink-client",
		HelpText: "Issues one traced user operation against a tracelink server",
	}

	svcLogging := &logging.Service{}
	svcObs := &pkgobs.Service{
		SpanExporter: env.Exporter,
		ServiceName:  "tracelink-client",
		Logging:      svcLogging,
		Exporters: []pkgobs.ExporterService{
			&pkgzipkin.Service{
				Servicename: "tracelink-client",
				Address:     env.ZipkinEndpoint,
				Token:       env.ZipkinToken,
			},
			&pkgskywalking.Service{
				Servicename:         "tracelink-client",
				ServiceInstanceName: env.InstanceName,
				Address:             env.SkywalkingAddress,
				Token:               env.SkywalkingToken,
			},
		},
	}

	// the group stops once the operation returns; the observability unit
	// then flushes the exporter.
	g.Register(
		svcLogging,
		svcObs,
		&operation{Observability: svcObs, Logging: svcLogging},
	)

	if err := g.Run(); err != nil {
		fmt.Printf("%s exit: %v\n", g.Name, err)
		os.Exit(-1)
	}
}
