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

// Package skywalking provides primitives for creating and configuring a
// Skywalking span exporter for this binary.
package skywalking

import (
	"fmt"
	"net"
	"os"
	"path"

	"github.com/SkyAPM/go2sky"
	"github.com/SkyAPM/go2sky/reporter"
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
	ReporterEndpoint         = "skywalking-reporter-endpoint"
	ReporterToken            = "skywalking-reporter-token"
	LocalServicename         = "skywalking-local-servicename"
	LocalServiceInstanceName = "skywalking-local-serviceinstancename"
)

// Service holds the Skywalking exporter configuration.
type Service struct {
	Servicename         string
	ServiceInstanceName string
	Address             string
	Token               string

	// Reporter overrides the gRPC reporter, e.g. in tests.
	Reporter go2sky.Reporter
}

// static compile time interface validation
var _ observability.ExporterService = (*Service)(nil)

// Name implements run.Unit.
func (s Service) Name() string {
	return observability.ExporterSkywalking
}

// GroupName implements run.Namer so the Skywalking local endpoint service name
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
	if s.ServiceInstanceName == "" {
		s.ServiceInstanceName = s.Servicename
	}

	flags := run.NewFlagSet("Skywalking Exporter Config")

	flags.StringVar(
		&s.Address,
		ReporterEndpoint,
		s.Address,
		`Address (host:port) of the Skywalking OAP gRPC collector`)
	flags.StringVar(
		&s.Token,
		ReporterToken,
		s.Token,
		`Authentication token sent to the Skywalking OAP collector`)
	flags.StringVar(
		&s.Servicename,
		LocalServicename,
		s.Servicename,
		`Local ServiceName to report`)
	flags.StringVar(
		&s.ServiceInstanceName,
		LocalServiceInstanceName,
		s.ServiceInstanceName,
		`Local ServiceInstanceName to report`)

	return flags
}

// Validate implements run.Config
func (s Service) Validate() error {
	var mErr error

	if s.Reporter == nil && s.Address != "" {
		if _, _, err := net.SplitHostPort(s.Address); err != nil {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, ReporterEndpoint, err))
		}
	}
	if s.Servicename == "" {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, LocalServicename, pkg.ErrRequired))
	}
	if s.ServiceInstanceName == "" {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, LocalServiceInstanceName, pkg.ErrRequired))
	}

	return mErr
}

// NewExporter implements observability.ExporterService.
func (s *Service) NewExporter(logger *zap.Logger) (tracing.Exporter, error) {
	var err error

	rep := s.Reporter
	if rep == nil {
		if s.Address == "" {
			return nil, fmt.Errorf(pkg.FlagErr, ReporterEndpoint, observability.ErrNotConfigured)
		}
		opts := []reporter.GRPCReporterOption{reporter.WithCheckInterval(0)}
		if s.Token != "" {
			opts = append(opts, reporter.WithAuthentication(s.Token))
		}
		if rep, err = reporter.NewGRPCReporter(s.Address, opts...); err != nil {
			return nil, err
		}
	}

	instance := s.ServiceInstanceName
	if instance == "" {
		instance = s.Servicename
	}
	tracer, err := go2sky.NewTracer(s.Servicename, go2sky.WithInstance(instance), go2sky.WithReporter(rep))
	if err != nil {
		rep.Close()
		return nil, err
	}

	logger.Debug("skywalking exporter ready",
		zap.String("service", s.Servicename), zap.String("instance", instance))

	return NewExporter(tracer, rep, map[string]string{observability.VersionTag: version.Parse()}), nil
}
