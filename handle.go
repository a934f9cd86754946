package bdispatch

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Handler serves one dispatched request. It completes synchronously by returning a nil [*Deferred]: the
// response is then expected to be sent. Returning an error is a synchronous fault. Returning a non-nil
// [*Deferred] hands completion over to work that continues after the handler returned, see [Spawn].
type Handler interface {
	ServeDispatch(ctx context.Context, w *Response, r *Request) (*Deferred, error)
}

// HandlerFunc allow casting a synchronous function to implement [Handler].
type HandlerFunc func(ctx context.Context, w *Response, r *Request) error

// ServeDispatch implements the [Handler] interface.
func (f HandlerFunc) ServeDispatch(ctx context.Context, w *Response, r *Request) (*Deferred, error) {
	return nil, f(ctx, w, r)
}

// AsyncHandlerFunc allow casting a function that may return deferred work to implement [Handler].
type AsyncHandlerFunc func(ctx context.Context, w *Response, r *Request) (*Deferred, error)

// ServeDispatch implements the [Handler] interface.
func (f AsyncHandlerFunc) ServeDispatch(ctx context.Context, w *Response, r *Request) (*Deferred, error) {
	return f(ctx, w, r)
}

// DefaultExport is the key under which a structured unit exposes its handler.
const DefaultExport = "default"

// Exports is a structured unit. Its handler is found under [DefaultExport].
type Exports map[string]any

// UnitShape tells how a loaded unit exposes its handler.
type UnitShape int

const (
	ShapeInvalid UnitShape = iota
	ShapeBare
	ShapeDefault
)

func (s UnitShape) String() string {
	switch s {
	case ShapeBare:
		return "bare"
	case ShapeDefault:
		return "default"
	default:
		return "invalid"
	}
}

// Unit is a loaded handler unit. Its shape is classified once, when the unit is loaded, so a unit that is not
// invocable fails the same way on every dispatch.
type Unit struct {
	name    string
	shape   UnitShape
	handler Handler
	err     error
}

// ClassifyUnit determines the shape of a loaded value. It never fails, an unusable value results in a unit of
// shape [ShapeInvalid] that reports the problem from [Unit.Handler].
func ClassifyUnit(name string, v any) *Unit {
	unit := &Unit{name: name}

	if h, ok := asHandler(v); ok {
		unit.shape, unit.handler = ShapeBare, h
		return unit
	}

	var exports map[string]any
	switch ev := v.(type) {
	case Exports:
		exports = ev
	case map[string]any:
		exports = ev
	default:
		unit.err = errors.Newf("unexpected handler shape: %s", describe(v))
		return unit
	}

	dv, ok := exports[DefaultExport]
	if !ok || dv == nil {
		unit.err = errors.New("no handler function found")
		return unit
	}

	h, ok := asHandler(dv)
	if !ok {
		unit.err = errors.Newf("handler function type: %s", describe(dv))
		return unit
	}

	unit.shape, unit.handler = ShapeDefault, h
	return unit
}

func (u *Unit) Name() string     { return u.name }
func (u *Unit) Shape() UnitShape { return u.shape }

// Handler returns the unit's handler, or a shape error if the unit is not invocable.
func (u *Unit) Handler() (Handler, error) {
	if u.err != nil {
		return nil, shapeError(u.err)
	}
	return u.handler, nil
}

func asHandler(v any) (Handler, bool) {
	switch hv := v.(type) {
	case Handler:
		return hv, hv != nil
	case func(context.Context, *Response, *Request) error:
		return HandlerFunc(hv), hv != nil
	case func(context.Context, *Response, *Request) (*Deferred, error):
		return AsyncHandlerFunc(hv), hv != nil
	default:
		return nil, false
	}
}

func describe(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
