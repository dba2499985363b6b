package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client

	Health *Health
}

// NewHTTPTransport creates a transport resolving relative URLs against baseURL.
// timeout bounds a whole exchange; per-attempt ceilings come from ctx.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Health: NewHealth(),
	}
}

// Send performs one HTTP exchange. Non-2xx statuses are returned as responses.
func (t *HTTPTransport) Send(ctx context.Context, r *Request) (*Response, error) {
	start := time.Now()

	target := t.resolve(r.URL)
	if len(r.Params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.Params.Encode()
	}

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		t.Health.RecordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(r.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.Health.RecordFailure()
		return nil, fmt.Errorf("http %s %s: %w", r.Method, r.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Health.RecordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		t.Health.RecordFailure()
	} else {
		t.Health.RecordSuccess(time.Since(start))
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// BaseURL returns the configured base URL.
func (t *HTTPTransport) BaseURL() string {
	return t.baseURL
}

// Close cleans up idle connections.
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) resolve(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || t.baseURL == "" {
		return u
	}
	return t.baseURL + "/" + strings.TrimLeft(u, "/")
}
