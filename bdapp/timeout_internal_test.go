package bdapp

import (
	"context"
	"testing"
	"time"

	"github.com/advdv/bdispatch"
	"github.com/advdv/bdispatch/bdispatchtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// testContext mirrors testing.T.Context (Go 1.24+): canceled just before cleanup.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newTestResponse(t *testing.T) (*bdispatch.Response, *bdispatch.Request) {
	t.Helper()
	h := bdispatchtest.NewHost()
	id := h.Open("Accept: */*")
	return bdispatch.NewResponse(id, h, bdispatch.NewTestLogger(t)),
		bdispatch.NewRequest(id, "GET", "/x.lua?a=1", h)
}

func TestDispatchTimeoutSync(t *testing.T) {
	w, r := newTestResponse(t)

	var deadline time.Time
	h := withDispatchTimeout(time.Minute)(bdispatch.HandlerFunc(
		func(ctx context.Context, _ *bdispatch.Response, _ *bdispatch.Request) error {
			deadline, _ = ctx.Deadline()
			return nil
		}))

	deferred, err := h.ServeDispatch(testContext(t), w, r)
	require.NoError(t, err)
	require.Nil(t, deferred)
	require.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

func TestDispatchTimeoutDeferred(t *testing.T) {
	w, r := newTestResponse(t)

	release := make(chan struct{})
	var taskCtx context.Context
	h := withDispatchTimeout(time.Minute)(bdispatch.AsyncHandlerFunc(
		func(ctx context.Context, w *bdispatch.Response, _ *bdispatch.Request) (*bdispatch.Deferred, error) {
			taskCtx = ctx
			return bdispatch.Spawn(ctx, w, func(ctx context.Context) error {
				<-release
				return nil
			}), nil
		}))

	deferred, err := h.ServeDispatch(testContext(t), w, r)
	require.NoError(t, err)
	require.NotNil(t, deferred)
	require.NoError(t, taskCtx.Err())

	close(release)
	require.NoError(t, deferred.Wait(testContext(t)))
	require.Eventually(t, func() bool { return taskCtx.Err() != nil }, time.Second, time.Millisecond)
}

func TestDispatchTimeoutExpires(t *testing.T) {
	w, r := newTestResponse(t)

	h := withDispatchTimeout(10 * time.Millisecond)(bdispatch.HandlerFunc(
		func(ctx context.Context, _ *bdispatch.Response, _ *bdispatch.Request) error {
			<-ctx.Done()
			return ctx.Err()
		}))

	_, err := h.ServeDispatch(testContext(t), w, r)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatchTimeoutDisabled(t *testing.T) {
	w, r := newTestResponse(t)

	h := withDispatchTimeout(0)(bdispatch.HandlerFunc(
		func(ctx context.Context, _ *bdispatch.Response, _ *bdispatch.Request) error {
			_, ok := ctx.Deadline()
			require.False(t, ok)
			return nil
		}))

	_, err := h.ServeDispatch(testContext(t), w, r)
	require.NoError(t, err)
}

func TestRequestLogger(t *testing.T) {
	w, r := newTestResponse(t)
	core, obs := observer.New(zapcore.DebugLevel)

	h := withRequestLogger(zap.New(core))(bdispatch.HandlerFunc(
		func(ctx context.Context, _ *bdispatch.Response, _ *bdispatch.Request) error {
			Log(ctx).Info("handled")
			return nil
		}))

	_, err := h.ServeDispatch(testContext(t), w, r)
	require.NoError(t, err)

	require.Equal(t, 1, obs.Len())
	fields := obs.All()[0].ContextMap()
	require.Equal(t, "GET", fields["method"])
	require.Equal(t, "/x.lua?a=1", fields["target"])
	require.EqualValues(t, uint64(r.Conn()), fields["conn"])
}

func TestLogOutsideDispatch(t *testing.T) {
	require.NotPanics(t, func() { Log(context.Background()).Info("dropped") })
	require.False(t, Span(context.Background()).SpanContext().IsValid())
}
