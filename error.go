package bdispatch

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Code is an error code that mirrors the http status codes. It is carried by errors that travel from the resolver
// and the handlers to the dispatcher so that every failure maps onto a protocol-level response.
type Code int

const (
	CodeUnknown             Code = 0
	CodeOK                  Code = http.StatusOK                  // RFC 9110, 15.3.1
	CodeNotFound            Code = http.StatusNotFound            // RFC 9110, 15.5.5
	CodeTeapot              Code = http.StatusTeapot              // RFC 9110, 15.5.19 (Unused)
	CodeInternalServerError Code = http.StatusInternalServerError // RFC 9110, 15.6.1
	CodeNotImplemented      Code = http.StatusNotImplemented      // RFC 9110, 15.6.2
)

// Kind classifies where in the request lifecycle an error originated.
type Kind int

const (
	KindUnknown Kind = iota
	// KindResolution means the name does not map onto a loadable unit.
	KindResolution
	// KindShape means the unit loaded but is not invocable in an accepted shape.
	KindShape
	// KindInvocation means the handler failed synchronously or its deferred result failed.
	KindInvocation
	// KindTransport means writing to or closing the connection failed.
	KindTransport
	// KindLoop means the intake loop's own bookkeeping failed.
	KindLoop
)

func (k Kind) String() string {
	switch k {
	case KindResolution:
		return "resolution"
	case KindShape:
		return "shape"
	case KindInvocation:
		return "invocation"
	case KindTransport:
		return "transport"
	case KindLoop:
		return "loop"
	default:
		return "unknown"
	}
}

// ErrResponseClosed is returned by terminal operations on a response that was already closed.
var ErrResponseClosed = errors.New("bdispatch: response already closed")

// Error describes a dispatch error.
type Error struct {
	code Code
	kind Kind
	err  error
}

// NewError inits a new error given the error code.
func NewError(c Code, k Kind, underlying error) *Error {
	return &Error{c, k, underlying}
}

func (e *Error) Code() Code    { return e.code }
func (e *Error) Kind() Kind    { return e.kind }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Error() string {
	status := http.StatusText(int(e.Code()))
	if status == "" {
		status = "Unknown"
	}

	return fmt.Sprintf("%s: %s", status, e.err.Error())
}

// Message returns the text that is sent to the client for this error.
func (e *Error) Message() string {
	switch e.kind {
	case KindResolution:
		return "No Handler Implemented: " + e.err.Error()
	default:
		return e.err.Error()
	}
}

// CodeOf returns the error's status code if it is or wraps an [*Error] and
// [CodeUnknown] otherwise.
func CodeOf(err error) Code {
	if dispatchErr, ok := asError(err); ok {
		return dispatchErr.Code()
	}
	return CodeUnknown
}

// KindOf returns the error's kind if it is or wraps an [*Error] and
// [KindUnknown] otherwise.
func KindOf(err error) Kind {
	if dispatchErr, ok := asError(err); ok {
		return dispatchErr.Kind()
	}
	return KindUnknown
}

// asError uses errors.As to unwrap any error and look for a dispatch *Error.
func asError(err error) (*Error, bool) {
	var dispatchErr *Error
	ok := errors.As(err, &dispatchErr)
	return dispatchErr, ok
}

func resolutionError(err error) *Error { return NewError(CodeNotImplemented, KindResolution, err) }
func shapeError(err error) *Error      { return NewError(CodeNotImplemented, KindShape, err) }
func invocationFault(err error) *Error { return NewError(CodeInternalServerError, KindInvocation, err) }
func transportFault(err error) *Error  { return NewError(CodeUnknown, KindTransport, err) }
func loopFault(err error) *Error       { return NewError(CodeUnknown, KindLoop, err) }

// asInvocationFault keeps errors that already carry a code or kind, anything else becomes an invocation fault.
func asInvocationFault(err error) error {
	if dispatchErr, ok := asError(err); ok && (dispatchErr.Code() != CodeUnknown || dispatchErr.Kind() != KindUnknown) {
		return err
	}
	return invocationFault(err)
}

// faultMessage returns the message to send to the client for a failure.
func faultMessage(err error) string {
	if dispatchErr, ok := asError(err); ok {
		return dispatchErr.Message()
	}
	return err.Error()
}

// recovered turns a recovered panic value into an error with a stack attached.
func recovered(p any) error {
	switch v := p.(type) {
	case error:
		return errors.WithStack(v)
	case string:
		return errors.New(v)
	default:
		return errors.Newf("panic: %v", v)
	}
}
