package bdispatch

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrIntakeClosed is returned by [Intake.Pull] once no further requests will arrive.
var ErrIntakeClosed = errors.New("bdispatch: intake closed")

// ConnID identifies one accepted connection. The host never reuses an id, so it is safe to carry it through
// closures that outlive the request that created them.
type ConnID uint64

// IncomingRequest is what the host hands to the intake loop for one accepted connection.
type IncomingRequest struct {
	Conn   ConnID
	Method string
	Target string
}

// Intake provides the next request. Pull may block, it returns false when no request arrived in time.
type Intake interface {
	Pull(ctx context.Context) (IncomingRequest, bool, error)
}

// Writer writes raw bytes to the connection. It fails on any I/O error and never retries. Implementations must not
// retain b after returning.
type Writer interface {
	WriteBytes(id ConnID, b []byte) error
}

// Closer releases a connection. It is called exactly once per connection.
type Closer interface {
	CloseConnection(id ConnID) error
}

// HeaderSource returns the raw, newline delimited "key: value" header text of a connection.
type HeaderSource interface {
	RawHeaderText(id ConnID) string
}

// Conn bundles the per-connection collaborators a response and a request need.
type Conn interface {
	Writer
	Closer
	HeaderSource
}

// Host is the full boundary provided by a socket-owning host.
type Host interface {
	Intake
	Conn
}

// Loader loads a handler unit by name. A result that is a string is treated as a resolution error message, just
// like a returned error. Any other result is classified into a [Unit].
type Loader interface {
	Load(ctx context.Context, name string) (any, error)
}

// LoaderFunc allow casting a function to implement [Loader].
type LoaderFunc func(ctx context.Context, name string) (any, error)

// Load implements the [Loader] interface.
func (f LoaderFunc) Load(ctx context.Context, name string) (any, error) {
	return f(ctx, name)
}
