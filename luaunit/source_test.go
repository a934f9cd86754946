package luaunit_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/advdv/bdispatch/luaunit"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFSSource(t *testing.T) {
	src := luaunit.NewFSSource(fstest.MapFS{"api/a.lua": {Data: []byte("return 1")}})

	code, err := src.ReadUnit(context.Background(), "api/a.lua")
	require.NoError(t, err)
	require.Equal(t, "return 1", string(code))

	_, err = src.ReadUnit(context.Background(), "api/b.lua")
	require.ErrorIs(t, err, luaunit.ErrNotFound)
}

func TestDirSource(t *testing.T) {
	src := luaunit.NewDirSource(t.TempDir())

	_, err := src.ReadUnit(context.Background(), "nope.lua")
	require.ErrorIs(t, err, luaunit.ErrNotFound)
}

type fakeS3 map[string]string

func (f fakeS3) GetObject(
	_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	if *in.Bucket == "broken" {
		return nil, errors.New("access denied")
	}

	code, ok := f[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(code))}, nil
}

func TestS3Source(t *testing.T) {
	client := fakeS3{"units/prod/hello.lua": "return function(req, res) res:send('s3') end"}

	src := luaunit.NewS3Source(client, "units", "prod/")
	code, err := src.ReadUnit(context.Background(), "hello.lua")
	require.NoError(t, err)
	require.Contains(t, string(code), "res:send('s3')")

	_, err = src.ReadUnit(context.Background(), "other.lua")
	require.ErrorIs(t, err, luaunit.ErrNotFound)

	_, err = luaunit.NewS3Source(client, "broken", "").ReadUnit(context.Background(), "hello.lua")
	require.Error(t, err)
	require.NotErrorIs(t, err, luaunit.ErrNotFound)

	ldr := luaunit.NewLoader(src, luaunit.Config{}, zap.NewNop())
	defer ldr.Close()

	_, err = ldr.Load(context.Background(), "other.lua")
	require.EqualError(t, err, "cannot find module 'other.lua'")
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/units/api/hello.lua":
			w.Write([]byte("return 'from http'")) //nolint:errcheck
		case "/units/fail.lua":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := luaunit.NewHTTPSource(srv.URL+"/units", nil)

	code, err := src.ReadUnit(context.Background(), "api/hello.lua")
	require.NoError(t, err)
	require.Equal(t, "return 'from http'", string(code))

	_, err = src.ReadUnit(context.Background(), "nope.lua")
	require.ErrorIs(t, err, luaunit.ErrNotFound)

	_, err = src.ReadUnit(context.Background(), "fail.lua")
	require.Error(t, err)
	require.NotErrorIs(t, err, luaunit.ErrNotFound)
}
