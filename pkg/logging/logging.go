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

// Package logging builds the structured logger shared by all run units.
package logging

import (
	"fmt"
	"sync"

	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/basvanbeek/tracelink/pkg"
)

// flags
const (
	LogLevel       = "log-level"
	LogDevelopment = "log-development"
)

const (
	defaultLevel = "info"

	errLevel pkg.Error = "expected one of debug, info, warn, error"
)

// Service implements run.Config and run.PreRunner, building a zap logger
// from its flags.
type Service struct {
	Level       string
	Development bool

	mu     sync.RWMutex
	logger *zap.Logger
}

var (
	_ run.Config    = (*Service)(nil)
	_ run.PreRunner = (*Service)(nil)
)

// Name implements run.Unit.
func (s *Service) Name() string {
	return "logging"
}

// FlagSet implements run.Config.
func (s *Service) FlagSet() *run.FlagSet {
	if s.Level == "" {
		s.Level = defaultLevel
	}

	flags := run.NewFlagSet("Logging options")

	flags.StringVar(&s.Level, LogLevel, s.Level,
		`Minimum log level, one of debug, info, warn, error`)

	flags.BoolVar(&s.Development, LogDevelopment, s.Development,
		`Human readable console output instead of JSON`)

	return flags
}

// Validate implements run.Config.
func (s *Service) Validate() error {
	var mErr error

	if _, err := parseLevel(s.Level); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf(pkg.FlagErr, LogLevel, errLevel))
	}

	return mErr
}

// PreRun implements run.PreRunner.
func (s *Service) PreRun() error {
	logger, err := New(s.Level, s.Development)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
	return nil
}

// Logger returns the configured logger, or a no-op logger before PreRun.
func (s *Service) Logger() *zap.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// New returns a zap logger for the provided level. Development loggers write
// colored console output, others write JSON.
func New(level string, development bool) (*zap.Logger, error) {
	l, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(l),
		Development:       development,
		Encoding:          "json",
		EncoderConfig:     zap.NewProductionEncoderConfig(),
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !development,
	}
	if development {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	switch l {
	case zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel:
		return l, nil
	default:
		return zapcore.InfoLevel, errLevel
	}
}
