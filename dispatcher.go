package bdispatch

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// UnobservedHook is called with the failure of deferred work that no observer was registered for.
type UnobservedHook func(w *Response, err error)

// Outcome describes how a dispatch ended, it is reported to the function set with [WithOutcomeFunc].
type Outcome struct {
	Conn     ConnID
	Status   int
	Kind     Kind
	Deferred bool
	Elapsed  time.Duration
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithTracerProvider sets the provider of the tracer that records a span per dispatch.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp.Tracer("github.com/advdv/bdispatch") }
}

// WithUnobservedHook replaces [AnswerUnobserved] as the hook for unobserved deferred failures.
func WithUnobservedHook(hook UnobservedHook) Option {
	return func(d *Dispatcher) { d.unobserved = hook }
}

// WithOutcomeFunc sets a function that is called once for every finished dispatch.
func WithOutcomeFunc(fn func(Outcome)) Option {
	return func(d *Dispatcher) { d.outcome = fn }
}

// WithInFlightFunc sets a function that is called with +1 and -1 as deferred work starts and settles.
func WithInFlightFunc(fn func(delta int)) Option {
	return func(d *Dispatcher) { d.inflight = fn }
}

// Dispatcher resolves the handler for a request, invokes it and makes sure the request is answered exactly once,
// whether the handler completes synchronously, returns an error, or hands completion to deferred work.
type Dispatcher struct {
	resolver   Resolver
	logs       Logger
	tracer     trace.Tracer
	unobserved UnobservedHook
	outcome    func(Outcome)
	inflight   func(delta int)

	middlewares struct {
		captured atomic.Bool
		buffered []Middleware
	}
}

// NewDispatcher inits a dispatcher that resolves handlers with resolver.
func NewDispatcher(resolver Resolver, logs Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver:   resolver,
		logs:       logs,
		tracer:     noop.NewTracerProvider().Tracer("github.com/advdv/bdispatch"),
		unobserved: AnswerUnobserved,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Use allows providing of middleware. It must be called before the first dispatch.
func (d *Dispatcher) Use(mw ...Middleware) {
	d.ensureNoUseAfterDispatch()
	d.middlewares.buffered = append(d.middlewares.buffered, mw...)
}

// Dispatch serves the request. It returns once the handler returned, deferred work may still be running and will
// complete the response later. Dispatch never returns an error: every failure is answered on the response, or
// logged when the response can no longer be written.
func (d *Dispatcher) Dispatch(ctx context.Context, r *Request, w *Response) {
	d.middlewares.captured.Store(true)

	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "bdispatch.Dispatch", trace.WithAttributes(
		attribute.Int64("bdispatch.conn", int64(r.Conn())), //nolint:gosec
		attribute.String("bdispatch.method", r.Method()),
		attribute.String("bdispatch.target", r.Target()),
	))

	finish := func(err error, deferred bool) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.fail(w, err)
		} else {
			d.complete(w)
		}

		status := w.Status()
		span.SetAttributes(attribute.Int("bdispatch.status", status))
		span.End()

		if d.outcome != nil {
			d.outcome(Outcome{
				Conn:     r.Conn(),
				Status:   status,
				Kind:     KindOf(err),
				Deferred: deferred,
				Elapsed:  time.Since(start),
			})
		}
	}

	unit, err := d.resolver.Resolve(ctx, r.Target())
	if err != nil {
		if KindOf(err) == KindUnknown {
			err = resolutionError(err)
		}
		finish(err, false)
		return
	}
	span.SetAttributes(
		attribute.String("bdispatch.unit", unit.Name()),
		attribute.String("bdispatch.shape", unit.Shape().String()))

	h, err := unit.Handler()
	if err != nil {
		finish(err, false)
		return
	}

	hook := d.unobserved
	w.track.bind(func(w *Response, err error) {
		span.AddEvent("unobserved failure", trace.WithAttributes(attribute.String("error", err.Error())))
		hook(w, err)
	}, d.inflight)

	deferred, err := d.invoke(ctx, Wrap(h, d.middlewares.buffered...), w, r)
	if err != nil {
		w.track.seal(nil)
		finish(err, false)
		return
	}

	if deferred == nil {
		w.track.seal(nil)
		finish(nil, false)
		return
	}

	deferred.observe(func(err error) {
		if err != nil {
			err = asInvocationFault(err)
		}
		finish(err, true)
	})
	w.track.seal(deferred)
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, w *Response, r *Request) (deferred *Deferred, err error) {
	defer func() {
		if p := recover(); p != nil {
			deferred, err = nil, invocationFault(recovered(p))
		}
	}()

	deferred, err = h.ServeDispatch(ctx, w, r)
	if err != nil {
		return nil, asInvocationFault(err)
	}

	return deferred, nil
}

// fail answers the request with the status and message for err, unless the response is closed already.
func (d *Dispatcher) fail(w *Response, err error) {
	if KindOf(err) == KindTransport {
		d.logs.LogTransportFault(w.Conn(), err)
		return
	}

	d.logs.LogDispatchFailure(w.Conn(), err)

	status := CodeOf(err)
	if status == CodeUnknown {
		status = CodeInternalServerError
	}

	sent, werr := w.sendIfOpen(int(status), faultMessage(err))
	if !sent {
		d.logs.LogSuppressedWrite(w.Conn(), err)
		return
	}

	if werr != nil {
		d.logs.LogTransportFault(w.Conn(), werr)
	}
}

// complete sends the response as it was configured by the handler if it did not send it itself.
func (d *Dispatcher) complete(w *Response) {
	sent, err := w.sendIfUnsent()
	if !sent {
		return
	}

	d.logs.LogMissingResponse(w.Conn())
	if err != nil {
		d.logs.LogTransportFault(w.Conn(), err)
	}
}

func (d *Dispatcher) ensureNoUseAfterDispatch() {
	if d.middlewares.captured.Load() {
		panic("bdispatch: cannot call Use() after calling Dispatch")
	}
}

// AnswerUnobserved is the default [UnobservedHook]. It answers the request with a 500 if the response is still
// open and logs the failure either way.
func AnswerUnobserved(w *Response, err error) {
	logs := w.logs
	if logs == nil {
		logs = NewStdLogger(nil)
	}

	fault := asInvocationFault(err)
	logs.LogUnobservedFailure(w.Conn(), fault)

	sent, werr := w.sendIfOpen(int(CodeInternalServerError), faultMessage(fault))
	switch {
	case !sent:
		logs.LogSuppressedWrite(w.Conn(), fault)
	case werr != nil:
		logs.LogTransportFault(w.Conn(), werr)
	}
}
