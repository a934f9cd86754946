// Package example implements example middleware in an outside package.
package example

import (
	"context"

	"github.com/advdv/bdispatch"
	"go.uber.org/zap"
)

// ctxKey type scopes middlware values.
type ctxKey string

// Middleware provides an example for middleware that adds a logger to the context.
func Middleware(logs *zap.Logger) bdispatch.Middleware {
	return func(n bdispatch.Handler) bdispatch.Handler {
		return bdispatch.AsyncHandlerFunc(func(
			ctx context.Context, w *bdispatch.Response, r *bdispatch.Request,
		) (*bdispatch.Deferred, error) {
			logs := logs.With(
				zap.String("method", r.Method()),
				zap.String("target", r.Target()),
				zap.Uint64("conn", uint64(r.Conn())))

			return n.ServeDispatch(context.WithValue(ctx, ctxKey("zap"), logs), w, r)
		})
	}
}

// Log returns the logger that was added to the context by [Middleware], or a no-op logger.
func Log(ctx context.Context) *zap.Logger {
	v, ok := ctx.Value(ctxKey("zap")).(*zap.Logger)
	if !ok {
		return zap.NewNop()
	}

	return v
}
