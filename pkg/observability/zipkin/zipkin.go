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

// Package zipkin provides primitives for creating and configuring a Zipkin
// span exporter for this binary.
package zipkin

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/openzipkin/zipkin-go"
	"github.com/openzipkin/zipkin-go/reporter"
	zrpr "github.com/openzipkin/zipkin-go/reporter/http"
	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"github.com/tetratelabs/run/pkg/version"
	"go.uber.org/zap"

	"github.com/basvanbeek/tracelink/pkg"
	"github.com/basvanbeek/tracelink/pkg/observability"
	"github.com/basvanbeek/tracelink/pkg/tracing"
)

// flags
const (
	ReporterEndpoint = "zipkin-reporter-endpoint"
	ReporterToken    = "zipkin-reporter-token"
	TokenRequired    = "zipkin-token-required"
	LocalServicename = "zipkin-local-servicename"
	LocalHostport    = "zipkin-local-hostport"
)

// Service holds the Zipkin exporter configuration.
type Service struct {
	Servicename   string
	LocalHostport string
	Address       string
	Token         string
	TokenRequired bool
	// Reporter overrides the HTTP reporter, e.g. in tests.
	Reporter reporter.Reporter
}

// static compile time interface validation
var _ observability.ExporterService = (*Service)(nil)

// Name implements run.Unit.
func (s Service) Name() string {
	return observability.ExporterZipkin
}

// GroupName implements run.Namer so the Zipkin local endpoint service name
// defaults to the name of the run.Group if not set before calling Group's Run
// or RunConfig.
func (s *Service) GroupName(name string) {
	if s.Servicename == "" {
		s.Servicename = name
	}
}

// FlagSet implements run.Config
func (s *Service) FlagSet() *run.FlagSet {
	if s.Servicename == "" {
		s.Servicename = path.Base(os.Args[0])
	}

	flags := run.NewFlagSet("Zipkin Exporter Config")

	flags.StringVar(
		&s.Address,
		ReporterEndpoint,
		s.Address,
		`Full address, including URI, of the Zipkin HTTP collector`)
	flags.StringVar(
		&s.Token,
		ReporterToken,
		s.Token,
		`Bearer token sent to the Zipkin HTTP collector`)
	flags.BoolVar(
		&s.TokenRequired,
		TokenRequired,
		s.TokenRequired,
		`Disable tracing when no collector token is configured`)
	flags.StringVar(
		&s.Servicename,
		LocalServicename,
		s.Servicename,
		`Local ServiceName to report`)
	flags.StringVar(
		&s.LocalHostport,
		LocalHostport,
		s.LocalHostport,
		`Local ip:port to report`)

	return flags
}

// Validate implements run.Config
func (s Service) Validate() error {
	var mErr error

	if s.Reporter == nil && s.Address != "" {
		if _, err := url.Parse(s.Address); err != nil {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, ReporterEndpoint, err))
		}
	}
	if s.Servicename == "" {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, LocalServicename, pkg.ErrRequired))
	}
	if s.LocalHostport != "" {
		if _, _, err := net.SplitHostPort(s.LocalHostport); err != nil {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, LocalHostport, err))
		}
	}

	return mErr
}

// NewExporter implements observability.ExporterService.
func (s *Service) NewExporter(logger *zap.Logger) (tracing.Exporter, error) {
	if s.Reporter == nil {
		if s.Address == "" {
			return nil, fmt.Errorf(pkg.FlagErr, ReporterEndpoint, observability.ErrNotConfigured)
		}
		if s.TokenRequired && s.Token == "" {
			return nil, fmt.Errorf(pkg.FlagErr, ReporterToken, observability.ErrNotConfigured)
		}
	}

	ep, err := zipkin.NewEndpoint(s.Servicename, s.LocalHostport)
	if err != nil {
		return nil, err
	}

	rep := s.Reporter
	if rep == nil {
		opts := []zrpr.ReporterOption{
			zrpr.Client(cleanhttp.DefaultPooledClient()),
			zrpr.Logger(zap.NewStdLog(logger.Named("zipkin-reporter"))),
		}
		if token := s.Token; token != "" {
			opts = append(opts, zrpr.RequestCallback(func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+token)
			}))
		}
		rep = zrpr.NewReporter(s.Address, opts...)
	}

	return NewExporter(rep, ep, map[string]string{observability.VersionTag: version.Parse()}), nil
}
