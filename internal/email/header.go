package email

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Header is an ordered mapping of lowercase header names to folded values.
// Each name appears once; setting an existing name replaces its value and
// keeps its original position.
type Header struct {
	keys   []string
	values map[string]string
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{values: make(map[string]string)}
}

// Set stores value under the lowercase form of key.
func (h *Header) Set(key, value string) {
	key = strings.ToLower(key)
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Fold appends a continuation line to the value stored under key. The
// previous value loses its trailing whitespace and the two parts are joined
// by exactly one space.
func (h *Header) Fold(key, continuation string) {
	key = strings.ToLower(key)
	prev, ok := h.values[key]
	if !ok || continuation == "" {
		return
	}
	prev = strings.TrimRight(prev, " \t")
	if prev == "" {
		h.values[key] = continuation
		return
	}
	h.values[key] = prev + " " + continuation
}

// Get returns the value stored under key, or "".
func (h *Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h.values[strings.ToLower(key)]
}

// Lookup returns the value stored under key and whether it was present.
func (h *Header) Lookup(key string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h.values[strings.ToLower(key)]
	return v, ok
}

// Keys returns the header names in first-seen order.
func (h *Header) Keys() []string {
	if h == nil {
		return nil
	}
	return append([]string(nil), h.keys...)
}

// Len returns the number of distinct header names.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.keys)
}

// Map returns an unordered copy of the header.
func (h *Header) Map() map[string]string {
	m := make(map[string]string, h.Len())
	for _, k := range h.Keys() {
		m[k] = h.values[k]
	}
	return m
}

// MarshalJSON encodes the header as a JSON object preserving key order.
func (h *Header) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range h.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(h.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the order of its keys.
func (h *Header) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	*h = *NewHeader()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return err
		}
		h.Set(key, value)
	}
	_, err := dec.Token()
	return err
}
