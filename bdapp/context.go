package bdapp

import (
	"context"

	"github.com/advdv/bdispatch"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ctxKey is the key type for context values.
type ctxKey int

const (
	ctxKeyLogger ctxKey = iota
)

// withRequestLogger adds a logger with the request's fields to the context of every dispatch.
func withRequestLogger(logs *zap.Logger) bdispatch.Middleware {
	return func(next bdispatch.Handler) bdispatch.Handler {
		return bdispatch.AsyncHandlerFunc(func(
			ctx context.Context, w *bdispatch.Response, r *bdispatch.Request,
		) (*bdispatch.Deferred, error) {
			l := logs.With(
				zap.Uint64("conn", uint64(r.Conn())),
				zap.String("method", r.Method()),
				zap.String("target", r.Target()))

			return next.ServeDispatch(context.WithValue(ctx, ctxKeyLogger, l), w, r)
		})
	}
}

// Log returns a trace-correlated zap logger from the context. Outside of a dispatch it returns a no-op logger.
func Log(ctx context.Context) *zap.Logger {
	l, ok := ctx.Value(ctxKeyLogger).(*zap.Logger)
	if !ok {
		return zap.NewNop()
	}
	return l.With(traceFields(ctx)...)
}

// Span returns the current trace span from the context.
func Span(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// traceFields extracts trace_id and span_id from the context for log correlation.
func traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	sc := span.SpanContext()
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
