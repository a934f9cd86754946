package host

import (
	"io/fs"
	"mime"
	"net"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"gitlab.com/gitlab-org/go-mimedb"
	"go.uber.org/zap"
)

const (
	statusOK       = "200 OK"
	statusNotFound = "404 Resource Not Found"
	statusTeapot   = "418 I'm a teapot"
)

var loadTypes = sync.OnceValue(mimedb.LoadTypes)

// ContentType returns the content type for the extension of name, "text/plain" if it is not known.
func ContentType(name string) string {
	if err := loadTypes(); err != nil {
		return "text/plain"
	}

	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "text/plain"
}

func cutQuery(target string) (string, string, bool) {
	return strings.Cut(target, "?")
}

func (h *Host) serveStatic(conn net.Conn, target, name string) {
	body, err := h.readStatic(name)
	if err != nil {
		h.logs.Debug("static resource not found", zap.String("target", target), zap.Error(err))
		h.reply(conn, statusNotFound, "text/plain", []byte("resource not found: "+target))
		return
	}

	h.reply(conn, statusOK, ContentType(name), body)
}

func (h *Host) readStatic(name string) ([]byte, error) {
	if h.cfg.Static == nil {
		return nil, errors.New("no static resources")
	}

	body, err := fs.ReadFile(h.cfg.Static, name)
	if err != nil {
		return nil, errors.Wrapf(err, "read %q", name)
	}
	return body, nil
}

// reply writes a complete response to a connection that is not in the connection table and closes it.
func (h *Host) reply(conn net.Conn, status, contentType string, body []byte) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(status)
	buf.WriteString("\r\ncontent-type: ")
	buf.WriteString(contentType)
	buf.WriteString("\r\ncontent-length: ")
	buf.WriteString(strconv.Itoa(len(body)))
	buf.WriteString("\r\n\r\n")
	buf.Write(body) //nolint:errcheck

	if _, err := conn.Write(buf.B); err != nil {
		h.logs.Debug("failed to write reply", zap.Error(err))
	}
	if err := conn.Close(); err != nil {
		h.logs.Debug("failed to close conn", zap.Error(err))
	}
}
