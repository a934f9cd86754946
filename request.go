package bdispatch

import (
	"strings"
	"sync"
)

// Request is the read-only view a handler gets of one inbound request. The query and header views are parsed on
// first use and the same map is returned from then on. Handlers must treat the returned maps as read-only.
type Request struct {
	conn    ConnID
	method  string
	target  string
	headers HeaderSource

	queryOnce  sync.Once
	query      map[string]string
	headerOnce sync.Once
	header     map[string]string
}

// NewRequest inits a request for the connection. The header source is consulted lazily and may be nil.
func NewRequest(id ConnID, method, target string, headers HeaderSource) *Request {
	return &Request{conn: id, method: method, target: target, headers: headers}
}

func (r *Request) Conn() ConnID   { return r.conn }
func (r *Request) Method() string { return r.method }
func (r *Request) Target() string { return r.target }

// Query returns the parsed query of the target.
func (r *Request) Query() map[string]string {
	r.queryOnce.Do(func() { r.query = ParseQuery(r.target) })
	return r.query
}

// Header returns the parsed request headers. Keys keep the case they had on the wire.
func (r *Request) Header() map[string]string {
	r.headerOnce.Do(func() {
		var raw string
		if r.headers != nil {
			raw = r.headers.RawHeaderText(r.conn)
		}
		r.header = ParseHeader(raw)
	})
	return r.header
}

// HeaderValue looks up a header ignoring case.
func (r *Request) HeaderValue(key string) (string, bool) {
	hdr := r.Header()
	if v, ok := hdr[key]; ok {
		return v, true
	}
	for k, v := range hdr {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// ParseQuery parses the part of target after the first '?'. Pairs are split on '&' and then on the first '='.
// A later duplicate key overwrites an earlier one. Values are not unescaped.
func ParseQuery(target string) map[string]string {
	query := map[string]string{}

	_, raw, ok := strings.Cut(target, "?")
	if !ok {
		return query
	}

	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		query[key] = value
	}
	return query
}

// ParseHeader parses newline delimited "key: value" lines. Values are trimmed, lines without a ':' or with an
// empty key are dropped.
func ParseHeader(raw string) map[string]string {
	header := map[string]string{}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		header[key] = strings.TrimSpace(value)
	}
	return header
}
