// Package transport implements the network collaborator of the request layer.
//
// This package contains:
//   - Transport interface: one request/response exchange honoring ctx cancellation
//   - HTTPTransport: net/http implementation with a base URL
//   - Health: success/failure and latency tracking per transport
package transport

import (
	"context"
	"net/http"
	"net/url"
)

// Request is a single transport exchange.
type Request struct {
	Method string
	URL    string
	Params url.Values
	Body   []byte
	Header http.Header
}

// Response is what the server returned. Any status is a response; only a
// failure to get one is an error.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Transport sends requests. Implementations must abort when ctx is done.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req *Request) (*Response, error)

func (f Func) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
