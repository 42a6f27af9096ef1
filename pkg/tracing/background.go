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

package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tetratelabs/multierror"
	"github.com/tetratelabs/run"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/basvanbeek/tracelink/pkg"
)

// flags
const (
	BackgroundTimeout      = "background-timeout"
	BackgroundMaxTasks     = "background-max-tasks"
	BackgroundDrainTimeout = "background-drain-timeout"
)

const (
	defaultBackgroundTimeout  = 30 * time.Second
	defaultBackgroundMaxTasks = 256
	defaultDrainTimeout       = 35 * time.Second

	errNegativeDuration pkg.Error = "expected a zero or positive duration"
	errDrainTimeout     pkg.Error = "expected a drain timeout not shorter than the task timeout"
	errTaskLimit        pkg.Error = "expected a positive task limit"
)

// BackgroundWork is detached work traced by Background.Detach.
type BackgroundWork func(ctx context.Context, span *Span) error

// Background is a supervised set of detached tasks, each traced in its own
// INTERNAL span. The process drains the set on shutdown so no span is lost.
type Background struct {
	Tracer       *Tracer
	Timeout      time.Duration
	MaxTasks     int
	DrainTimeout time.Duration

	once   sync.Once
	mu     sync.RWMutex
	closed bool
	group  errgroup.Group
	closer chan struct{}
}

var (
	_ run.Config    = (*Background)(nil)
	_ run.PreRunner = (*Background)(nil)
	_ run.Service   = (*Background)(nil)
)

// NewBackground returns a ready to use task set with default bounds.
func NewBackground(tr *Tracer) *Background {
	b := &Background{Tracer: tr, Timeout: defaultBackgroundTimeout}
	b.init()
	return b
}

func (b *Background) init() {
	b.once.Do(func() {
		if b.Timeout < 0 {
			b.Timeout = 0
		}
		if b.MaxTasks <= 0 {
			b.MaxTasks = defaultBackgroundMaxTasks
		}
		if b.DrainTimeout <= 0 {
			b.DrainTimeout = defaultDrainTimeout
		}
		b.group.SetLimit(b.MaxTasks)
		b.closer = make(chan struct{})
	})
}

// Name implements run.Unit.
func (b *Background) Name() string {
	return "background"
}

// FlagSet implements run.Config.
func (b *Background) FlagSet() *run.FlagSet {
	if b.Timeout == 0 {
		b.Timeout = defaultBackgroundTimeout
	}
	if b.MaxTasks == 0 {
		b.MaxTasks = defaultBackgroundMaxTasks
	}
	if b.DrainTimeout == 0 {
		b.DrainTimeout = defaultDrainTimeout
	}

	flags := run.NewFlagSet("Background task options")

	flags.DurationVar(&b.Timeout, BackgroundTimeout, b.Timeout,
		`Maximum run time of a detached background task, 0 disables the bound`)

	flags.IntVar(&b.MaxTasks, BackgroundMaxTasks, b.MaxTasks,
		`Maximum number of concurrently running background tasks`)

	flags.DurationVar(&b.DrainTimeout, BackgroundDrainTimeout, b.DrainTimeout,
		`Time to wait for in-flight background tasks on shutdown`)

	return flags
}

// Validate implements run.Config.
func (b *Background) Validate() error {
	var mErr error

	if b.Timeout < 0 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, BackgroundTimeout, errNegativeDuration))
	}
	if b.MaxTasks <= 0 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, BackgroundMaxTasks, errTaskLimit))
	}
	if b.DrainTimeout < 0 {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, BackgroundDrainTimeout, errNegativeDuration))
	} else if b.DrainTimeout > 0 && b.Timeout > 0 && b.DrainTimeout < b.Timeout {
		mErr = multierror.Append(mErr,
			fmt.Errorf(pkg.FlagErr, BackgroundDrainTimeout, errDrainTimeout))
	}

	return mErr
}

// PreRun implements run.PreRunner.
func (b *Background) PreRun() error {
	if b.Tracer == nil {
		return errors.New("missing tracer for background tasks")
	}
	b.init()
	return nil
}

// Serve implements run.Service.
func (b *Background) Serve() error {
	b.init()
	<-b.closer
	return nil
}

// GracefulStop implements run.Service.
func (b *Background) GracefulStop() {
	b.init()
	ctx, cancel := context.WithTimeout(context.Background(), b.DrainTimeout)
	defer cancel()

	if err := b.Drain(ctx); err != nil {
		b.Tracer.logger.Warn("background tasks still running at shutdown", zap.Error(err))
	}
	select {
	case <-b.closer:
	default:
		close(b.closer)
	}
}

// Detach runs work in the background without blocking the caller. The trace
// context of ctx is captured before Detach returns; the task span is a child
// of that snapshot and is unaffected by later changes to the caller's
// context, including its cancellation. The caller never observes the result:
// failures and panics are logged and recorded on the task span only.
func (b *Background) Detach(ctx context.Context, name string, work BackgroundWork, opts ...SpanOption) {
	b.init()
	parent, hasParent := TraceContextFromContext(ctx)

	base := context.Background()
	if hasParent {
		base = ContextWithRemote(base, parent)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed || !b.group.TryGo(func() error {
		b.run(base, name, work, opts)
		return nil
	}) {
		b.Tracer.metrics.backgroundDropped.Inc()
		fields := []zap.Field{zap.String("name", name), zap.Bool("closed", b.closed)}
		if hasParent {
			fields = append(fields, zap.String("trace_id", parent.TraceID.String()))
		}
		b.Tracer.logger.Warn("background task dropped", fields...)
	}
}

func (b *Background) run(base context.Context, name string, work BackgroundWork, opts []SpanOption) {
	tr := b.Tracer
	tr.metrics.backgroundInFlight.Inc()
	defer tr.metrics.backgroundInFlight.Dec()

	ctx := base
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, b.Timeout)
		defer cancel()
	}

	ctx, span := tr.Start(ctx, name, append([]SpanOption{WithKind(KindInternal)}, opts...)...)
	span.SetAttribute(AttrBackground, true)

	logger := tr.logger.With(
		zap.String("name", name),
		zap.String("trace_id", span.TraceID()),
		zap.String("span_id", span.SpanID()),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("background task panicked", zap.Any("panic", r))
			tr.RecordPanic(span, r)
			tr.metrics.backgroundCompleted.WithLabelValues(StatusError.String()).Inc()
		}
	}()

	if err := outcomeError(work(ctx, span)); err != nil {
		logger.Warn("background task failed", zap.Error(err))
		tr.RecordOutcome(span, err)
		tr.metrics.backgroundCompleted.WithLabelValues(StatusError.String()).Inc()
		return
	}
	tr.RecordOutcome(span, nil)
	tr.metrics.backgroundCompleted.WithLabelValues(StatusOK.String()).Inc()
}

// Drain stops accepting new tasks and waits for in-flight tasks to finish or
// for ctx to be done.
func (b *Background) Drain(ctx context.Context) error {
	b.init()
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = b.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "draining background tasks")
	}
}
