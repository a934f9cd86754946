package bdapp_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/advdv/bdispatch"
	"github.com/advdv/bdispatch/bdapp"
	"github.com/advdv/bdispatch/bdapp/bdapptest"
	"github.com/advdv/bdispatch/luaunit"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, data := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	}
	return dir
}

func roundTrip(t *testing.T, addr net.Addr, raw string) string {
	t.Helper()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(out)
}

func adminGet(t *testing.T, admin *bdapp.Admin, path string) (int, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
		"http://"+admin.Addr().String()+path, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestApp(t *testing.T) {
	units := writeFiles(t, map[string]string{
		"login.lua": `
return function(req, res)
  res:set_content_type("text/plain")
  res:send("welcome " .. (req:query().user or "stranger"))
end`,
		"api/later.lua": `
return { default = function(req, res)
  return function(req, res) res:send("done") end
end }`,
	})
	static := writeFiles(t, map[string]string{"index.html": "<p>home</p>"})

	bdapptest.SetBaseEnv(t).UnitDir(units).StaticDir(static).PreloadUnits("login.lua")

	var svc *bdapp.Service
	var admin *bdapp.Admin
	app := bdapptest.New[bdapp.BaseEnvironment](t, bdapp.WithFx(fx.Populate(&svc, &admin)))
	app.RequireStart()
	t.Cleanup(app.RequireStop)

	require.Eventually(t, func() bool {
		return len(svc.Units()) == 1
	}, time.Second, 5*time.Millisecond, "preloaded unit")

	out := roundTrip(t, svc.Addr(), "GET /login.x?user=ann HTTP/1.1\r\n\r\n")
	require.Equal(t, "HTTP/1.1 200 OK\r\n"+
		"content-type: text/plain\r\n"+
		"content-length: 11\r\n"+
		"\r\n"+
		"welcome ann", out)

	out = roundTrip(t, svc.Addr(), "GET /api/later.server HTTP/1.1\r\n\r\n")
	require.True(t, strings.HasSuffix(out, "\r\n\r\ndone"), out)

	out = roundTrip(t, svc.Addr(), "GET /missing.x HTTP/1.1\r\n\r\n")
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 501 ERROR\r\n"), out)

	out = roundTrip(t, svc.Addr(), "GET / HTTP/1.1\r\n\r\n")
	require.True(t, strings.HasSuffix(out, "\r\n\r\n<p>home</p>"), out)

	status, _ := adminGet(t, admin, "/health")
	require.Equal(t, http.StatusOK, status)

	status, body := adminGet(t, admin, "/units")
	require.Equal(t, http.StatusOK, status)

	var names []string
	require.NoError(t, json.Unmarshal([]byte(body), &names))
	require.Equal(t, []string{"api/later.lua", "login.lua"}, names)

	// deferred outcomes are recorded after the connection was closed
	require.Eventually(t, func() bool {
		status, body := adminGet(t, admin, "/metrics")
		return status == http.StatusOK &&
			strings.Contains(body, `bdispatch_dispatches_total{kind="unknown",status="200"} 2`) &&
			strings.Contains(body, `bdispatch_dispatches_total{kind="resolution",status="501"} 1`) &&
			strings.Contains(body, `bdispatch_events_total{event="dispatch_failure"} 1`) &&
			strings.Contains(body, "bdispatch_deferred_in_flight 0")
	}, time.Second, 10*time.Millisecond)
}

func TestAppOptions(t *testing.T) {
	bdapptest.SetBaseEnv(t)

	seen := make(chan string, 1)
	mw := func(next bdispatch.Handler) bdispatch.Handler {
		return bdispatch.AsyncHandlerFunc(func(
			ctx context.Context, w *bdispatch.Response, r *bdispatch.Request,
		) (*bdispatch.Deferred, error) {
			seen <- r.Target()
			bdapp.Log(ctx).Info("from middleware")
			return next.ServeDispatch(ctx, w, r)
		})
	}

	var svc *bdapp.Service
	var admin *bdapp.Admin
	app := bdapptest.New[bdapp.BaseEnvironment](t,
		bdapp.WithSource(luaunit.NewFSSource(fstest.MapFS{
			"ping.lua": {Data: []byte(`return function(req, res) res:send("pong") end`)},
		})),
		bdapp.WithMiddleware(mw),
		bdapp.WithHealthHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
		bdapp.WithFx(fx.Populate(&svc, &admin)),
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)

	out := roundTrip(t, svc.Addr(), "GET /ping.x HTTP/1.1\r\n\r\n")
	require.True(t, strings.HasSuffix(out, "\r\n\r\npong"), out)
	require.Equal(t, "ping.x", <-seen)

	status, _ := adminGet(t, admin, "/health")
	require.Equal(t, http.StatusTeapot, status)
}

func TestAppInvalidSource(t *testing.T) {
	bdapptest.SetBaseEnv(t).UnitSource("ftp")

	app := bdapp.NewApp[bdapp.BaseEnvironment]()
	require.ErrorContains(t, app.Err(), `unsupported BD_UNIT_SOURCE: "ftp"`)
}

func TestAppMissingBucket(t *testing.T) {
	bdapptest.SetBaseEnv(t).UnitSource("s3")

	app := bdapp.NewApp[bdapp.BaseEnvironment]()
	require.ErrorContains(t, app.Err(), "BD_UNIT_BUCKET is required")
}
