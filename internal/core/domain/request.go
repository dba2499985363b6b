package domain

import (
	"net/url"
	"strings"
)

// Method is an HTTP request method.
type Method string

const (
	MethodGet    Method = "GET"
	MethodHead   Method = "HEAD"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// IsRead reports whether the method never mutates server state.
// Only read requests may be served from or written to the response cache.
func (m Method) IsRead() bool {
	switch m.Normalize() {
	case MethodGet, MethodHead:
		return true
	}
	return false
}

// Normalize upper-cases the method and defaults an empty one to GET.
func (m Method) Normalize() Method {
	if m == "" {
		return MethodGet
	}
	return Method(strings.ToUpper(string(m)))
}

// RequestDescriptor describes one logical request.
type RequestDescriptor struct {
	URL     string            `json:"url"`
	Method  Method            `json:"method"`
	Params  map[string]string `json:"params,omitempty"`
	Body    any               `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// CacheKey and CancellationKey default to Key() when empty.
	CacheKey        string `json:"cache_key,omitempty"`
	CancellationKey string `json:"cancellation_key,omitempty"`
}

// Key serializes the request identity (method, url, params).
// Params are encoded in sorted order so equal maps give equal keys.
func (d RequestDescriptor) Key() string {
	var sb strings.Builder
	sb.WriteString(string(d.Method.Normalize()))
	sb.WriteByte(' ')
	sb.WriteString(d.URL)
	if len(d.Params) > 0 {
		values := make(url.Values, len(d.Params))
		for k, v := range d.Params {
			values.Set(k, v)
		}
		sb.WriteByte('?')
		sb.WriteString(values.Encode())
	}
	return sb.String()
}

// WithKeys returns a copy with CacheKey and CancellationKey filled in.
func (d RequestDescriptor) WithKeys() RequestDescriptor {
	d.Method = d.Method.Normalize()
	key := d.Key()
	if d.CacheKey == "" {
		d.CacheKey = key
	}
	if d.CancellationKey == "" {
		d.CancellationKey = key
	}
	return d
}
