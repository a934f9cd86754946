package luaunit

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/carlmjohnson/requests"
	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned (wrapped) by a [Source] that does not hold the requested unit.
var ErrNotFound = errors.New("unit not found")

// Source provides the code of units by name.
type Source interface {
	ReadUnit(ctx context.Context, name string) ([]byte, error)
}

// FSSource reads units from a file system.
type FSSource struct{ fsys fs.FS }

// NewFSSource inits a source that reads from fsys.
func NewFSSource(fsys fs.FS) *FSSource { return &FSSource{fsys: fsys} }

// NewDirSource inits a source that reads from the directory dir.
func NewDirSource(dir string) *FSSource { return NewFSSource(os.DirFS(dir)) }

// ReadUnit implements [Source].
func (s *FSSource) ReadUnit(_ context.Context, name string) ([]byte, error) {
	code, err := fs.ReadFile(s.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Mark(errors.Wrapf(err, "read %q", name), ErrNotFound)
	} else if err != nil {
		return nil, errors.Wrapf(err, "read %q", name)
	}
	return code, nil
}

// S3API is the part of the S3 client the [S3Source] uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads units from the objects in a bucket, below an optional key prefix.
type S3Source struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Source inits a source that reads from bucket.
func NewS3Source(client S3API, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

// ReadUnit implements [Source].
func (s *S3Source) ReadUnit(ctx context.Context, name string) ([]byte, error) {
	key := s.prefix + name
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return nil, errors.Mark(errors.Wrapf(err, "get s3://%s/%s", s.bucket, key), ErrNotFound)
	} else if err != nil {
		return nil, errors.Wrapf(err, "get s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()

	code, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read s3://%s/%s", s.bucket, key)
	}
	return code, nil
}

// HTTPSource reads units relative to a base URL.
type HTTPSource struct {
	base      string
	transport http.RoundTripper
}

// NewHTTPSource inits a source that fetches units relative to base through transport. A nil transport means
// [http.DefaultTransport].
func NewHTTPSource(base string, transport http.RoundTripper) *HTTPSource {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPSource{base: base, transport: transport}
}

// ReadUnit implements [Source].
func (s *HTTPSource) ReadUnit(ctx context.Context, name string) ([]byte, error) {
	var buf bytes.Buffer
	err := requests.
		URL(s.base).
		Path(name).
		Transport(s.transport).
		ToBytesBuffer(&buf).
		Fetch(ctx)
	if requests.HasStatusErr(err, http.StatusNotFound) {
		return nil, errors.Mark(errors.Wrapf(err, "fetch %q", name), ErrNotFound)
	} else if err != nil {
		return nil, errors.Wrapf(err, "fetch %q", name)
	}
	return buf.Bytes(), nil
}
