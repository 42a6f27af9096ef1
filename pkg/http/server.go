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

package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"

	"github.com/basvanbeek/tracelink/pkg"
	"github.com/basvanbeek/tracelink/pkg/traceparent"
	"github.com/basvanbeek/tracelink/pkg/tracing"
)

const (
	flagListenAddress = "http-listen-address"
	flagCORSOrigins   = "http-cors-origins"

	defaultListenAddress = ":8000"
	shutdownTimeout      = 5 * time.Second
)

var (
	_ run.Config  = (*Service)(nil)
	_ run.Service = (*Service)(nil)
)

// Service implements a run.Group compatible HTTP Server.
type Service struct {
	ListenAddress string
	CORSOrigins   []string
	Logging       interface{ Logger() *zap.Logger }

	*http.Server
	l net.Listener
}

// Name implements run.Unit.
func (s *Service) Name() string {
	return "http"
}

// FlagSet implements run.Config.
func (s *Service) FlagSet() *run.FlagSet {
	if s.ListenAddress == "" {
		s.ListenAddress = defaultListenAddress
	}
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"*"}
	}
	if s.Server == nil {
		s.Server = &http.Server{
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      35 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
	}
	flags := run.NewFlagSet("HTTP server options")

	flags.StringVarP(
		&s.ListenAddress,
		flagListenAddress, "a",
		s.ListenAddress,
		`HTTP server listen address, e.g. ":443" or "localhost:80"`)

	flags.StringSliceVar(
		&s.CORSOrigins,
		flagCORSOrigins,
		s.CORSOrigins,
		`Origins allowed to call this server from a browser`)

	return flags
}

// Validate implements run.Config.
func (s *Service) Validate() error {
	var mErr error

	if s.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(s.ListenAddress); err != nil {
			mErr = multierror.Append(mErr,
				fmt.Errorf(pkg.FlagErr, flagListenAddress, err))
		}
	} else {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, flagListenAddress, pkg.ErrRequired))
	}

	return mErr
}

// Wrap adds panic recovery and CORS handling to h. Browser clients may send
// the traceparent header and read the trace identifier response headers.
func (s *Service) Wrap(h http.Handler) http.Handler {
	logger := zap.NewNop()
	if s.Logging != nil {
		logger = s.Logging.Logger()
	}
	origins := s.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger.Named("http"))),
		handlers.PrintRecoveryStack(false),
	)
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{traceparent.Header, "Content-Type", "Authorization", "X-Request-Id"}),
		handlers.ExposedHeaders([]string{tracing.HeaderTraceID, tracing.HeaderSpanID, "X-Request-Id"}),
	)
	return cors(recovery(h))
}

// Serve implements run.Service.
func (s *Service) Serve() (err error) {
	s.l, err = net.Listen("tcp", s.ListenAddress)
	if err != nil {
		return err
	}
	s.Server.Handler = s.Wrap(s.Server.Handler)
	return s.Server.Serve(s.l)
}

// GracefulStop implements run.Service.
func (s *Service) GracefulStop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.Server != nil {
		_ = s.Server.Shutdown(ctx)
	}
	if s.l != nil {
		_ = s.l.Close()
	}
}
