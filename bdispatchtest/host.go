// Package bdispatchtest provides an in-memory host for testing dispatchers, loops and handler units.
//
// Example:
//
//	host := bdispatchtest.NewHost()
//	id := host.Enqueue("GET", "/login.x", "")
//	require.NoError(t, loop.Step(ctx))
//	require.Equal(t, "HTTP/1.1 200 OK\r\n...", host.Output(id))
package bdispatchtest

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/advdv/bdispatch"
)

// Host implements [bdispatch.Host] in memory. It records what is written to each connection and how often it
// was closed.
type Host struct {
	// Poll bounds how long Pull waits for a request, zero means it waits until ctx is done.
	Poll time.Duration

	mu     sync.Mutex
	next   bdispatch.ConnID
	queue  chan bdispatch.IncomingRequest
	conns  map[bdispatch.ConnID]*conn
	closed bool
}

type conn struct {
	header   string
	out      bytes.Buffer
	writes   int
	closes   int
	writeErr error
	closeErr error
	done     chan struct{}
}

// NewHost inits an in-memory host.
func NewHost() *Host {
	return &Host{
		queue: make(chan bdispatch.IncomingRequest, 1024),
		conns: make(map[bdispatch.ConnID]*conn),
	}
}

// Open registers a new connection without queueing it and returns its id.
func (h *Host) Open(rawHeader string) bdispatch.ConnID {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	h.conns[h.next] = &conn{header: rawHeader, done: make(chan struct{})}
	return h.next
}

// Enqueue opens a connection and queues its request for Pull.
func (h *Host) Enqueue(method, target, rawHeader string) bdispatch.ConnID {
	id := h.Open(rawHeader)
	h.queue <- bdispatch.IncomingRequest{Conn: id, Method: method, Target: target}
	return id
}

// CloseIntake makes Pull return [bdispatch.ErrIntakeClosed] once the queue is drained.
func (h *Host) CloseIntake() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
}

// FailWrites makes every write to the connection fail with err.
func (h *Host) FailWrites(id bdispatch.ConnID, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id].writeErr = err
}

// FailClose makes closing the connection fail with err.
func (h *Host) FailClose(id bdispatch.ConnID, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id].closeErr = err
}

// Pull implements [bdispatch.Intake].
func (h *Host) Pull(ctx context.Context) (bdispatch.IncomingRequest, bool, error) {
	var timeout <-chan time.Time
	if h.Poll > 0 {
		timer := time.NewTimer(h.Poll)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case in, ok := <-h.queue:
		if !ok {
			return in, false, bdispatch.ErrIntakeClosed
		}
		return in, true, nil
	case <-timeout:
		return bdispatch.IncomingRequest{}, false, nil
	case <-ctx.Done():
		return bdispatch.IncomingRequest{}, false, ctx.Err()
	}
}

// WriteBytes implements [bdispatch.Writer].
func (h *Host) WriteBytes(id bdispatch.ConnID, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.conns[id]
	c.writes++
	if c.writeErr != nil {
		return c.writeErr
	}

	c.out.Write(b)
	return nil
}

// CloseConnection implements [bdispatch.Closer].
func (h *Host) CloseConnection(id bdispatch.ConnID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.conns[id]
	c.closes++
	if c.closes == 1 {
		close(c.done)
	}
	return c.closeErr
}

// RawHeaderText implements [bdispatch.HeaderSource].
func (h *Host) RawHeaderText(id bdispatch.ConnID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id].header
}

// Output returns everything written to the connection.
func (h *Host) Output(id bdispatch.ConnID) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id].out.String()
}

// Writes returns how often the connection was written to.
func (h *Host) Writes(id bdispatch.ConnID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id].writes
}

// Closes returns how often the connection was closed.
func (h *Host) Closes(id bdispatch.ConnID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id].closes
}

// Closed returns a channel that is closed when the connection is closed for the first time.
func (h *Host) Closed(id bdispatch.ConnID) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id].done
}

// WaitClosed blocks until the connection was closed or the timeout passed. It reports whether it was closed.
func (h *Host) WaitClosed(id bdispatch.ConnID, timeout time.Duration) bool {
	select {
	case <-h.Closed(id):
		return true
	case <-time.After(timeout):
		return false
	}
}

// Exchange opens a connection and returns the request and response for it, for calling a dispatcher or a handler
// directly.
func (h *Host) Exchange(
	method, target, rawHeader string, logs bdispatch.Logger,
) (bdispatch.ConnID, *bdispatch.Request, *bdispatch.Response) {
	id := h.Open(rawHeader)
	return id, bdispatch.NewRequest(id, method, target, h), bdispatch.NewResponse(id, h, logs)
}

var _ bdispatch.Host = &Host{}
