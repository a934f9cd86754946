package bdispatch

import (
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
)

const (
	HeaderContentType   = "content-type"
	HeaderContentLength = "content-length"

	// DefaultContentType is the content type of a response unless the handler sets another one.
	DefaultContentType = "application/json"
	// ErrorContentType is the content type of responses generated for failures.
	ErrorContentType = "text/plain"
)

// ResponseState is the completion state of a [Response].
type ResponseState int

const (
	StateUnsent ResponseState = iota
	StateHeadersSent
	StateClosed
)

func (s ResponseState) String() string {
	switch s {
	case StateUnsent:
		return "unsent"
	case StateHeadersSent:
		return "headers-sent"
	default:
		return "closed"
	}
}

// Response is the single reply to one connection. The status line, the headers and the body are written at most
// once, in that order, after which the connection is closed. Mutators called after the headers went out are ignored
// and reported to the [Logger]; terminal operations on a closed response return [ErrResponseClosed].
//
// A Response is safe for use by the handler and by deferred work of that same request at the same time.
type Response struct {
	conn  ConnID
	out   Conn
	logs  Logger
	track *tracker

	mu          sync.Mutex
	state       ResponseState
	status      int
	contentType string
	header      *Header
}

// NewResponse inits a response for the connection.
func NewResponse(id ConnID, out Conn, logs Logger) *Response {
	w := &Response{
		conn:        id,
		out:         out,
		logs:        logs,
		status:      int(CodeOK),
		contentType: DefaultContentType,
		header:      newHeader(),
	}
	w.track = newTracker(w)
	return w
}

func (w *Response) Conn() ConnID { return w.conn }

// State returns the completion state.
func (w *Response) State() ResponseState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Closed reports whether the response reached its terminal state.
func (w *Response) Closed() bool {
	return w.State() == StateClosed
}

// Status returns the status code that will be, or was, sent.
func (w *Response) Status() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// SetStatus sets the status code.
func (w *Response) SetStatus(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.misused("SetStatus") {
		return
	}
	w.status = code
}

// ContentType returns the content type.
func (w *Response) ContentType() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.contentType
}

// SetContentType sets the content type. An empty content type means no content-type header is sent.
func (w *Response) SetContentType(contentType string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.misused("SetContentType") {
		return
	}
	w.contentType = contentType
}

// SetHeader sets a header. Setting a key that is already present appends the value, see [HeaderJoin].
func (w *Response) SetHeader(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.misused("SetHeader") {
		return
	}
	w.header.Add(key, value)
}

// GetHeader returns a header value, the key is matched case-insensitively.
func (w *Response) GetHeader(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.header.Get(key)
}

// Send writes the complete response with body and closes the connection.
func (w *Response) Send(body []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.send(body)
}

// SendString is a convenience for [Response.Send].
func (w *Response) SendString(body string) error {
	return w.Send([]byte(body))
}

// SendError replies with status and a plain text message. Headers set by the handler are discarded.
func (w *Response) SendError(status int, message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateUnsent {
		return ErrResponseClosed
	}

	w.status = status
	w.contentType = ErrorContentType
	w.header = newHeader()
	return w.send([]byte(message))
}

// sendIfOpen is SendError but reports whether the response was still open.
func (w *Response) sendIfOpen(status int, message string) (bool, error) {
	err := w.SendError(status, message)
	if errors.Is(err, ErrResponseClosed) {
		return false, nil
	}
	return true, err
}

// sendIfUnsent sends the response as configured, with an empty body, if nothing was sent yet.
func (w *Response) sendIfUnsent() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateUnsent {
		return false, nil
	}
	return true, w.send(nil)
}

// Abort closes the connection without writing anything. It is meant for connections that are presumed broken.
func (w *Response) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateClosed {
		return ErrResponseClosed
	}

	w.state = StateClosed
	if err := w.out.CloseConnection(w.conn); err != nil {
		return transportFault(errors.Wrap(err, "close connection"))
	}
	return nil
}

func (w *Response) misused(op string) bool {
	if w.state == StateUnsent {
		return false
	}
	if w.logs != nil {
		w.logs.LogResponseMisuse(w.conn, op)
	}
	return true
}

func (w *Response) send(body []byte) error {
	if w.state != StateUnsent {
		return ErrResponseClosed
	}
	w.state = StateHeadersSent

	if w.contentType != "" {
		w.header.Set(HeaderContentType, w.contentType)
	}
	if _, ok := w.header.Get(HeaderContentLength); !ok {
		w.header.Set(HeaderContentLength, strconv.Itoa(len(body)))
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(w.status))
	buf.WriteString(" ")
	buf.WriteString(reasonPhrase(w.status))
	buf.WriteString("\r\n")
	w.header.each(func(k, v string) {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	})
	buf.WriteString("\r\n")
	buf.Write(body) //nolint:errcheck

	werr := w.out.WriteBytes(w.conn, buf.B)

	// the connection is released even when the write failed, the owning side must not leak it.
	w.state = StateClosed
	cerr := w.out.CloseConnection(w.conn)

	switch {
	case werr != nil:
		return transportFault(errors.Wrap(werr, "write response"))
	case cerr != nil:
		return transportFault(errors.Wrap(cerr, "close connection"))
	}
	return nil
}

func reasonPhrase(status int) string {
	if status == int(CodeOK) {
		return "OK"
	}
	return "ERROR"
}
