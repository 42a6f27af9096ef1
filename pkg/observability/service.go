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

// Package observability wires the tracer of this binary to the configured
// span exporter.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"

	"github.com/basvanbeek/tracelink/pkg"
	"github.com/basvanbeek/tracelink/pkg/tracing"
)

// flags
const (
	SpanExporter      = "span-exporter"
	MaxSpanAttributes = "span-max-attributes"
	MaxSpanEvents     = "span-max-events"
)

// supported exporters
const (
	ExporterZipkin     = "zipkin"
	ExporterSkywalking = "skywalking"
	ExporterLog        = "log"
	ExporterNone       = "none"
)

const (
	BaggageRequestID = "X-Request-Id"
	VersionTag       = "version"

	// ErrNotConfigured is returned by exporters lacking an address or
	// credentials. Tracing then continues with a no-op exporter.
	ErrNotConfigured pkg.Error = "exporter not configured"

	errLimit pkg.Error = "expected a positive limit"

	shutdownTimeout = 5 * time.Second
)

// ExporterService is implemented by configurable span exporters.
type ExporterService interface {
	run.Config
	// NewExporter creates the exporter. ErrNotConfigured disables tracing
	// without failing the process.
	NewExporter(logger *zap.Logger) (tracing.Exporter, error)
}

// Tracerer is an extension interface for units providing the tracer.
type Tracerer interface {
	Tracer() *tracing.Tracer
}

// Loggerer is an extension interface for units providing the logger.
type Loggerer interface {
	Logger() *zap.Logger
}

// Service implements run.GroupService. It owns the tracer and the exporter
// selected by flag.
type Service struct {
	SpanExporter string
	Exporters    []ExporterService
	ServiceName  string
	Limits       tracing.Limits

	// dependencies
	Logging    Loggerer
	Registerer prometheus.Registerer

	once     sync.Once
	tracer   *tracing.Tracer
	exporter tracing.Exporter
	closer   chan struct{}
}

// static compile time run interfaces validation
var (
	_ run.Config    = (*Service)(nil)
	_ run.PreRunner = (*Service)(nil)
	_ run.Service   = (*Service)(nil)
	_ Tracerer      = (*Service)(nil)
)

func (s *Service) supportedExporters() []string {
	names := []string{ExporterLog, ExporterNone}
	for _, e := range s.Exporters {
		names = append(names, e.Name())
	}
	return names
}

// Name implements run.Unit.
func (s *Service) Name() string {
	return "observability"
}

// FlagSet implements run.Config
func (s *Service) FlagSet() *run.FlagSet {
	if s.SpanExporter == "" {
		s.SpanExporter = ExporterLog
	}
	if s.Limits.MaxAttributes == 0 {
		s.Limits.MaxAttributes = tracing.DefaultLimits.MaxAttributes
	}
	if s.Limits.MaxEvents == 0 {
		s.Limits.MaxEvents = tracing.DefaultLimits.MaxEvents
	}

	flags := run.NewFlagSet("Observability config")

	flags.StringVar(
		&s.SpanExporter,
		SpanExporter,
		s.SpanExporter,
		fmt.Sprintf(`Name of the span exporter to use, one of %v`, s.supportedExporters()))
	flags.IntVar(
		&s.Limits.MaxAttributes,
		MaxSpanAttributes,
		s.Limits.MaxAttributes,
		`Maximum number of attributes kept per span`)
	flags.IntVar(
		&s.Limits.MaxEvents,
		MaxSpanEvents,
		s.Limits.MaxEvents,
		`Maximum number of events kept per span`)

	for _, exporter := range s.Exporters {
		flags.AddFlagSet(exporter.FlagSet().FlagSet)
	}
	return flags
}

// Validate implements run.Config
func (s *Service) Validate() error {
	var mErr error

	var found bool
	for _, name := range s.supportedExporters() {
		if name == s.SpanExporter {
			found = true
			break
		}
	}
	if !found {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, SpanExporter, fmt.Errorf("exporter must be one of %v", s.supportedExporters())))
	}
	if s.Limits.MaxAttributes < 0 {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, MaxSpanAttributes, errLimit))
	}
	if s.Limits.MaxEvents < 0 {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, MaxSpanEvents, errLimit))
	}

	if delegate := s.delegate(); delegate != nil {
		if err := delegate.Validate(); err != nil {
			mErr = multierror.Append(mErr, err)
		}
	}
	return mErr
}

func (s *Service) delegate() ExporterService {
	for _, exporter := range s.Exporters {
		if exporter.Name() == s.SpanExporter {
			return exporter
		}
	}
	return nil
}

// PreRun implements run.PreRunner
func (s *Service) PreRun() error {
	_ = s.Tracer()
	s.closer = make(chan struct{})
	return nil
}

// Tracer implements Tracerer. The tracer is created once; concurrent callers
// block until it is ready.
func (s *Service) Tracer() *tracing.Tracer {
	s.once.Do(s.init)
	return s.tracer
}

func (s *Service) logger() *zap.Logger {
	if s.Logging == nil {
		return zap.NewNop()
	}
	return s.Logging.Logger()
}

func (s *Service) init() {
	logger := s.logger()
	s.exporter = s.newExporter(logger)

	s.tracer = tracing.New(
		tracing.WithExporter(s.exporter),
		tracing.WithLogger(logger),
		tracing.WithLimits(s.Limits),
		tracing.WithMetrics(tracing.NewMetrics(s.Registerer)),
		tracing.WithServiceName(s.ServiceName),
	)
}

func (s *Service) newExporter(logger *zap.Logger) tracing.Exporter {
	switch s.SpanExporter {
	case ExporterNone:
		return tracing.NoopExporter{}
	case ExporterLog, "":
		return tracing.LogExporter{Logger: logger.Named("spans")}
	}

	delegate := s.delegate()
	if delegate == nil {
		logger.Warn("unknown span exporter, tracing disabled", zap.String("exporter", s.SpanExporter))
		return tracing.NoopExporter{}
	}
	exporter, err := delegate.NewExporter(logger)
	if err != nil {
		if pkg.HasError(err, ErrNotConfigured) {
			logger.Warn("span exporter not configured, tracing disabled",
				zap.String("exporter", s.SpanExporter), zap.Error(err))
		} else {
			logger.Error("unable to create span exporter, tracing disabled",
				zap.String("exporter", s.SpanExporter), zap.Error(err))
		}
		return tracing.NoopExporter{}
	}
	return exporter
}

// Serve implements run.GroupService
func (s *Service) Serve() error {
	<-s.closer
	return nil
}

// GracefulStop implements run.GroupService. Pending spans are flushed to the
// exporter.
func (s *Service) GracefulStop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.Tracer().Shutdown(ctx); err != nil {
		s.logger().Warn("unable to flush span exporter", zap.Error(err))
	}
	if s.closer != nil {
		close(s.closer)
	}
}
