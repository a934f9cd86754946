package bdispatch_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/advdv/bdispatch"
	"github.com/advdv/bdispatch/bdispatchtest"
	"github.com/advdv/bdispatch/internal/example"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapWithoutMiddleware(t *testing.T) {
	hdlr1 := bdispatch.HandlerFunc(func(context.Context, *bdispatch.Response, *bdispatch.Request) error {
		return nil
	})

	hdlr2 := bdispatch.Wrap(hdlr1)
	require.Equal(t, fmt.Sprint(hdlr1), fmt.Sprint(hdlr2)) // compare addrs
}

func TestWrapOrder(t *testing.T) {
	var res string
	hdlr := bdispatch.HandlerFunc(func(ctx context.Context, _ *bdispatch.Response, _ *bdispatch.Request) error {
		res += fmt.Sprintf("inner %v", ctx.Value(ctxKey("foo")))
		return errors.New("inner error")
	})

	mw1 := func(n bdispatch.Handler) bdispatch.Handler {
		return bdispatch.AsyncHandlerFunc(func(
			ctx context.Context, w *bdispatch.Response, r *bdispatch.Request,
		) (*bdispatch.Deferred, error) {
			res += "1("
			ctx = context.WithValue(ctx, ctxKey("foo"), "bar")
			d, err := n.ServeDispatch(ctx, w, r)
			res += ")1"
			return d, errors.Wrap(err, "mw1")
		})
	}

	mw2 := func(n bdispatch.Handler) bdispatch.Handler {
		return bdispatch.AsyncHandlerFunc(func(
			ctx context.Context, w *bdispatch.Response, r *bdispatch.Request,
		) (*bdispatch.Deferred, error) {
			res += "2("
			d, err := n.ServeDispatch(ctx, w, r)
			res += ")2"
			return d, err
		})
	}

	host := bdispatchtest.NewHost()
	_, r, w := host.Exchange("GET", "/login.x", "", bdispatch.NewTestLogger(t))

	_, err := bdispatch.Wrap(hdlr, mw1, mw2).ServeDispatch(context.Background(), w, r)
	require.EqualError(t, err, "mw1: inner error")
	require.Equal(t, "1(2(inner bar)2)1", res)
}

type ctxKey string

func TestExampleMiddleware(t *testing.T) {
	zc, obs := observer.New(zap.DebugLevel)
	logs := bdispatch.NewTestLogger(t)
	host := bdispatchtest.NewHost()

	reg := bdispatch.NewRegistry()
	reg.HandleFunc("login.lua", func(ctx context.Context, w *bdispatch.Response, _ *bdispatch.Request) error {
		example.Log(ctx).Info("handling login")
		return w.SendString("OK")
	})

	disp := bdispatch.NewDispatcher(bdispatch.NewCache(reg, ""), logs)
	disp.Use(example.Middleware(zap.New(zc)))

	id, r, w := host.Exchange("GET", "/login.x", "", logs)
	disp.Dispatch(context.Background(), r, w)

	require.Equal(t, 1, host.Closes(id))
	entries := obs.FilterMessage("handling login").All()
	require.Len(t, entries, 1)
	require.Equal(t, "GET", entries[0].ContextMap()["method"])
	require.Equal(t, "/login.x", entries[0].ContextMap()["target"])
}
