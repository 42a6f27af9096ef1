package tracing_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basvanbeek/tracelink/pkg"
	"github.com/basvanbeek/tracelink/pkg/tracing"
)

func drain(t *testing.T, b *tracing.Background) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Drain(ctx))
}

func TestBackgroundPanicDoesNotAffectCaller(t *testing.T) {
	tr, rec := newTracer(t)
	bg := tracing.NewBackground(tr)
	c, w := newCarrier(incoming)

	out, err := tracing.RunRequestSpan(tr, c, "request", func(ctx context.Context, span *tracing.Span) tracing.Outcome[string] {
		bg.Detach(ctx, "send-email", func(context.Context, *tracing.Span) error {
			panic("smtp down")
		})
		return tracing.Success("accepted")
	})
	require.NoError(t, err)
	require.True(t, out.OK())
	drain(t, bg)

	request, ok := rec.Span("request")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusOK, request.Status.Code)
	assert.Equal(t, request.TraceContext.SpanID.String(), w.Header().Get(tracing.HeaderSpanID))

	email, ok := rec.Span("send-email")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusError, email.Status.Code)
	assert.Equal(t, "smtp down", email.Status.Message)
	assert.Equal(t, tracing.KindInternal, email.Kind)
	assert.Equal(t, true, email.Attributes[tracing.AttrBackground])
	assert.Equal(t, request.TraceContext.TraceID, email.TraceContext.TraceID)
	assert.Equal(t, request.TraceContext.SpanID, email.ParentSpanID)
}

func TestBackgroundFailureAndSuccess(t *testing.T) {
	tr, rec := newTracer(t)
	bg := tracing.NewBackground(tr)

	bg.Detach(context.Background(), "ok", func(context.Context, *tracing.Span) error { return nil })
	bg.Detach(context.Background(), "failed", func(context.Context, *tracing.Span) error {
		return tracing.NewFailure(http.StatusBadGateway, "upstream failed")
	})
	drain(t, bg)

	okSpan, ok := rec.Span("ok")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusOK, okSpan.Status.Code)
	assert.False(t, okSpan.HasParent())

	failed, ok := rec.Span("failed")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusError, failed.Status.Code)
	assert.Equal(t, "upstream failed", failed.Status.Message)
}

func TestBackgroundSnapshotsContext(t *testing.T) {
	tr, rec := newTracer(t)
	bg := tracing.NewBackground(tr)

	ctx, parent := tr.Start(context.Background(), "parent")
	ctx, cancel := context.WithCancel(ctx)

	release := make(chan struct{})
	bg.Detach(ctx, "detached", func(ctx context.Context, span *tracing.Span) error {
		<-release
		return ctx.Err()
	})

	// the caller moves on: new current span, cancelled context, parent ended
	_, _ = tr.Start(ctx, "later")
	cancel()
	tr.RecordOutcome(parent, nil)
	close(release)
	drain(t, bg)

	detached, ok := rec.Span("detached")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusOK, detached.Status.Code, "request cancellation must not reach detached work")
	assert.Equal(t, parent.Context().SpanID, detached.ParentSpanID)
}

func TestBackgroundTimeout(t *testing.T) {
	tr, rec := newTracer(t)
	bg := &tracing.Background{Tracer: tr, Timeout: 20 * time.Millisecond}
	require.NoError(t, bg.PreRun())

	bg.Detach(context.Background(), "slow", func(ctx context.Context, _ *tracing.Span) error {
		<-ctx.Done()
		return ctx.Err()
	})
	drain(t, bg)

	slow, ok := rec.Span("slow")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusError, slow.Status.Code)
	assert.Equal(t, context.DeadlineExceeded.Error(), slow.Status.Message)
}

func TestBackgroundDropsWhenFullOrClosed(t *testing.T) {
	tr, rec := newTracer(t)
	bg := &tracing.Background{Tracer: tr, MaxTasks: 1}
	require.NoError(t, bg.PreRun())

	release := make(chan struct{})
	bg.Detach(context.Background(), "first", func(context.Context, *tracing.Span) error {
		<-release
		return nil
	})
	bg.Detach(context.Background(), "overflow", func(context.Context, *tracing.Span) error { return nil })
	close(release)
	drain(t, bg)

	bg.Detach(context.Background(), "after-drain", func(context.Context, *tracing.Span) error { return nil })

	_, ok := rec.Span("first")
	assert.True(t, ok)
	_, ok = rec.Span("overflow")
	assert.False(t, ok)
	_, ok = rec.Span("after-drain")
	assert.False(t, ok)
}

func TestBackgroundDrainTimeout(t *testing.T) {
	tr, _ := newTracer(t)
	bg := tracing.NewBackground(tr)

	release := make(chan struct{})
	defer close(release)
	bg.Detach(context.Background(), "stuck", func(context.Context, *tracing.Span) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := bg.Drain(ctx)
	require.Error(t, err)
	assert.True(t, pkg.HasError(err, context.DeadlineExceeded))
}

func TestBackgroundValidate(t *testing.T) {
	bg := &tracing.Background{Timeout: -time.Second, MaxTasks: -1}
	err := bg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), tracing.BackgroundTimeout)
	assert.Contains(t, err.Error(), tracing.BackgroundMaxTasks)

	assert.Error(t, (&tracing.Background{}).PreRun(), "a tracer is required")

	bg = &tracing.Background{Timeout: time.Minute, MaxTasks: 1, DrainTimeout: time.Second}
	err = bg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), tracing.BackgroundDrainTimeout)

	bg = &tracing.Background{}
	bg.FlagSet()
	assert.NoError(t, bg.Validate())
	assert.GreaterOrEqual(t, bg.DrainTimeout, bg.Timeout)
}

func TestBackgroundNilFailureIsSuccess(t *testing.T) {
	tr, rec := newTracer(t)
	bg := tracing.NewBackground(tr)

	bg.Detach(context.Background(), "audit", func(context.Context, *tracing.Span) error {
		var f *tracing.Failure
		return f
	})
	drain(t, bg)

	audit, ok := rec.Span("audit")
	require.True(t, ok)
	assert.Equal(t, tracing.StatusOK, audit.Status.Code)
}
