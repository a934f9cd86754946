package bdispatch

import (
	"strings"
)

// HeaderJoin separates the values when the same header key is set more than once.
const HeaderJoin = "; "

// Header is a case-insensitive header map that remembers insertion order, so that the wire output is stable.
type Header struct {
	keys []string
	vals map[string]string
}

func newHeader() *Header {
	return &Header{vals: make(map[string]string)}
}

func headerKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Add sets the value for key, or appends it to the existing value separated by [HeaderJoin].
func (h *Header) Add(key, value string) {
	k := headerKey(key)
	old, ok := h.vals[k]
	if !ok {
		h.keys = append(h.keys, k)
		h.vals[k] = value
		return
	}

	h.vals[k] = old + HeaderJoin + value
}

// Set replaces the value for key.
func (h *Header) Set(key, value string) {
	k := headerKey(key)
	if _, ok := h.vals[k]; !ok {
		h.keys = append(h.keys, k)
	}
	h.vals[k] = value
}

// Get returns the value for key and whether it was set.
func (h *Header) Get(key string) (string, bool) {
	v, ok := h.vals[headerKey(key)]
	return v, ok
}

// Len returns the number of distinct keys.
func (h *Header) Len() int { return len(h.keys) }

// each calls fn for every key in insertion order.
func (h *Header) each(fn func(k, v string)) {
	for _, k := range h.keys {
		fn(k, h.vals[k])
	}
}
