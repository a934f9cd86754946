package bdapp

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/advdv/bdispatch"
	"github.com/advdv/bdispatch/luaunit"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
)

func dialAndSend(t *testing.T, addr net.Addr, raw string) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)
	return conn
}

func readAll(t *testing.T, conn net.Conn) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(out)
}

func TestServiceStopDeadlineClosesQueued(t *testing.T) {
	entered := make(chan struct{})
	blocking := func(next bdispatch.Handler) bdispatch.Handler {
		return bdispatch.AsyncHandlerFunc(func(
			ctx context.Context, w *bdispatch.Response, r *bdispatch.Request,
		) (*bdispatch.Deferred, error) {
			if strings.HasPrefix(r.Target(), "block") {
				close(entered)
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return next.ServeDispatch(ctx, w, r)
		})
	}

	units := fstest.MapFS{
		"block.lua":  {Data: []byte(`return function(req, res) res:send("block") end`)},
		"queued.lua": {Data: []byte(`return function(req, res) res:send("queued") end`)},
	}

	svc := NewService(ServiceParams{
		Env: BaseEnvironment{
			ListenAddr:     "127.0.0.1:0",
			UnitSuffix:     ".lua",
			ExecExtensions: []string{".x"},
			QueueSize:      10,
			PollInterval:   10 * time.Millisecond,
			ReadTimeout:    time.Second,
		},
		Logger:     zaptest.NewLogger(t),
		Metrics:    NewMetrics(),
		TracerProv: noop.NewTracerProvider(),
		Source:     luaunit.NewFSSource(units),
	}, ServiceConfig{Middleware: []bdispatch.Middleware{blocking}})

	require.NoError(t, svc.Start(context.Background()))

	blocked := dialAndSend(t, svc.Addr(), "GET /block.x HTTP/1.1\r\n\r\n")
	<-entered

	queued := dialAndSend(t, svc.Addr(), "GET /queued.x HTTP/1.1\r\n\r\n")
	require.Eventually(t, func() bool { return svc.host.Queued() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))

	require.Empty(t, readAll(t, queued))
	require.True(t, strings.HasPrefix(readAll(t, blocked), "HTTP/1.1 500 ERROR\r\n"))
	require.Equal(t, 0, svc.host.Open())
	require.False(t, svc.Running())
}
