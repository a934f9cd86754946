package bdispatch

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Loop is the intake loop. It pulls requests from the host one at a time and hands each to the dispatcher. It only
// waits for the handler to return, never for deferred work, so a slow deferred completion does not hold up intake.
type Loop struct {
	host Host
	disp *Dispatcher
	logs Logger
}

// NewLoop inits the loop.
func NewLoop(host Host, disp *Dispatcher, logs Logger) *Loop {
	return &Loop{host: host, disp: disp, logs: logs}
}

// Run pulls and dispatches until ctx is done or the intake is closed. Faults in the loop's own bookkeeping are
// logged and the loop continues with the next request.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := l.Step(ctx); err != nil {
			if errors.Is(err, ErrIntakeClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Step pulls at most one request and dispatches it. It only returns an error when the intake is closed or ctx is
// done.
func (l *Loop) Step(ctx context.Context) error {
	var w *Response
	defer func() {
		if p := recover(); p != nil {
			l.logs.LogLoopFault(loopFault(errors.Wrap(recovered(p), "intake loop")))
			if w != nil && !w.Closed() {
				if err := w.Abort(); err != nil && !errors.Is(err, ErrResponseClosed) {
					l.logs.LogTransportFault(w.Conn(), err)
				}
			}
		}
	}()

	in, ok, err := l.host.Pull(ctx)
	switch {
	case errors.Is(err, ErrIntakeClosed):
		return err
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		l.logs.LogLoopFault(loopFault(errors.Wrap(err, "pull")))
		return nil
	case !ok:
		return nil
	}

	w = NewResponse(in.Conn, l.host, l.logs)
	r := NewRequest(in.Conn, in.Method, in.Target, l.host)
	l.disp.Dispatch(ctx, r, w)
	return nil
}
