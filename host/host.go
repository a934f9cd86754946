// Package host implements a TCP host for the dispatcher. It accepts connections, reads the request line and the
// header lines, answers invalid requests and static resources itself, and queues the requests for executable
// targets. The dispatcher pulls them with [Host.Pull] and answers them through the connection table.
package host

import (
	"context"
	"io/fs"
	"net"
	"path"
	"sync"
	"time"

	"github.com/advdv/bdispatch"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config configures the host.
type Config struct {
	// Addr is the address to listen on.
	Addr string
	// Static holds the static resources, nil means no static resources are served.
	Static fs.FS
	// ExecExtensions are the target extensions that are queued for dispatch.
	ExecExtensions []string
	// QueueSize bounds the number of queued requests. Accepting blocks while the queue is full.
	QueueSize int
	// PollInterval bounds how long Pull waits for a request.
	PollInterval time.Duration
	// ReadTimeout bounds reading the request line and headers of a connection.
	ReadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8888"
	}
	if len(c.ExecExtensions) == 0 {
		c.ExecExtensions = []string{".x", ".server"}
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	return c
}

type hostConn struct {
	conn   net.Conn
	header string
}

// Host implements [bdispatch.Host] on top of TCP connections.
type Host struct {
	cfg  Config
	logs *zap.Logger

	ln    net.Listener
	queue chan bdispatch.IncomingRequest

	mu    sync.Mutex
	next  bdispatch.ConnID
	conns map[bdispatch.ConnID]*hostConn

	closeQueue sync.Once
}

// New inits the host, it does not listen yet.
func New(cfg Config, logs *zap.Logger) *Host {
	cfg = cfg.withDefaults()
	return &Host{
		cfg:   cfg,
		logs:  logs.Named("host"),
		queue: make(chan bdispatch.IncomingRequest, cfg.QueueSize),
		conns: make(map[bdispatch.ConnID]*hostConn),
	}
}

// Listen starts listening on the configured address.
func (h *Host) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %q", h.cfg.Addr)
	}

	h.ln = ln
	return nil
}

// Addr returns the address the host listens on.
func (h *Host) Addr() net.Addr {
	return h.ln.Addr()
}

// Serve accepts connections until ctx is done or the listener fails. Once it returns, connections that are
// already queued can still be pulled, after which Pull returns [bdispatch.ErrIntakeClosed].
func (h *Host) Serve(ctx context.Context) error {
	if h.ln == nil {
		return errors.New("host is not listening")
	}

	eg, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() { h.ln.Close() })
	defer stop()

	eg.Go(func() error {
		defer h.ln.Close()

		for {
			conn, err := h.ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return errors.Wrap(err, "accept")
			}

			eg.Go(func() error {
				h.handle(ctx, conn)
				return nil
			})
		}
	})

	err := eg.Wait()
	h.closeQueue.Do(func() { close(h.queue) })
	return err
}

// Pull implements [bdispatch.Intake].
func (h *Host) Pull(ctx context.Context) (bdispatch.IncomingRequest, bool, error) {
	timer := time.NewTimer(h.cfg.PollInterval)
	defer timer.Stop()

	select {
	case in, ok := <-h.queue:
		if !ok {
			return in, false, bdispatch.ErrIntakeClosed
		}
		return in, true, nil
	case <-timer.C:
		return bdispatch.IncomingRequest{}, false, nil
	case <-ctx.Done():
		return bdispatch.IncomingRequest{}, false, ctx.Err()
	}
}

// WriteBytes implements [bdispatch.Writer].
func (h *Host) WriteBytes(id bdispatch.ConnID, b []byte) error {
	hc, err := h.lookup(id)
	if err != nil {
		return err
	}

	if _, err := hc.conn.Write(b); err != nil {
		return errors.Wrapf(err, "write to conn %d", id)
	}
	return nil
}

// CloseConnection implements [bdispatch.Closer].
func (h *Host) CloseConnection(id bdispatch.ConnID) error {
	h.mu.Lock()
	hc, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()

	if !ok {
		return errors.Newf("unknown conn %d", id)
	}

	if err := hc.conn.Close(); err != nil {
		return errors.Wrapf(err, "close conn %d", id)
	}
	return nil
}

// RawHeaderText implements [bdispatch.HeaderSource].
func (h *Host) RawHeaderText(id bdispatch.ConnID) string {
	hc, err := h.lookup(id)
	if err != nil {
		return ""
	}
	return hc.header
}

// Open returns the number of connections that were accepted but not closed yet.
func (h *Host) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Queued returns the number of requests waiting to be pulled.
func (h *Host) Queued() int {
	return len(h.queue)
}

// CloseAll drops the requests that are still queued and closes every connection that was not closed yet. It
// returns the number of connections it closed. It is meant for a stop that cannot wait for the queue to drain.
func (h *Host) CloseAll() int {
	for drained := false; !drained; {
		select {
		case _, ok := <-h.queue:
			drained = !ok
		default:
			drained = true
		}
	}

	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[bdispatch.ConnID]*hostConn)
	h.mu.Unlock()

	for id, hc := range conns {
		if err := hc.conn.Close(); err != nil {
			h.logs.Debug("failed to close conn", zap.Uint64("conn", uint64(id)), zap.Error(err))
		}
	}
	return len(conns)
}

func (h *Host) lookup(id bdispatch.ConnID) (*hostConn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hc, ok := h.conns[id]
	if !ok {
		return nil, errors.Newf("unknown conn %d", id)
	}
	return hc, nil
}

func (h *Host) handle(ctx context.Context, conn net.Conn) {
	req, err := readHead(conn, h.cfg.ReadTimeout)
	if errors.Is(err, errInvalidHead) {
		h.logs.Debug("invalid resource request",
			zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		h.reply(conn, statusTeapot, "text/html", []byte("invalid resource request"))
		return
	} else if err != nil {
		h.logs.Debug("failed to read request head",
			zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		conn.Close()
		return
	}

	target := CleanTarget(req.uri)
	if !ValidMethod(req.method) || !ValidTarget(target) {
		h.logs.Debug("invalid resource request",
			zap.String("method", req.method), zap.String("uri", req.uri))
		h.reply(conn, statusTeapot, "text/html", []byte("invalid resource request"))
		return
	}

	p, _, _ := cutQuery(target)
	if !lo.Contains(h.cfg.ExecExtensions, path.Ext(p)) {
		h.serveStatic(conn, target, p)
		return
	}

	h.mu.Lock()
	h.next++
	id := h.next
	h.conns[id] = &hostConn{conn: conn, header: req.header}
	h.mu.Unlock()

	select {
	case h.queue <- bdispatch.IncomingRequest{Conn: id, Method: req.method, Target: target}:
	case <-ctx.Done():
		if err := h.CloseConnection(id); err != nil {
			h.logs.Debug("failed to close unqueued conn", zap.Error(err))
		}
	}
}
