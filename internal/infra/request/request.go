// Package request provides the resilient request dispatcher.
//
// The dispatcher is the single entry point for talking to the network. Each
// call goes through:
//   - cache/    - time-bounded response cache for read requests
//   - cancel/   - one cancellation token per logical request key
//   - retry/    - bounded exponential backoff, the only retry point
//   - classify/ - closed error taxonomy returned to callers
//   - transport/ - the network collaborator (HTTPTransport)
//
// # Quick Start
//
//	t := transport.NewHTTPTransport("https://api.example.com", 30*time.Second)
//	d := request.NewDispatcher(t, request.WithNotifier(notify.NewLogNotifier(nil)))
//
//	posts, err := request.Do[[]Post](ctx, d, domain.RequestDescriptor{
//	    URL:    "/posts",
//	    Params: map[string]string{"page": "1"},
//	}, request.Options{Cache: true, CacheTTL: 5 * time.Second})
package request

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/request/retry"
)

// Options are per-call dispatch settings.
type Options struct {
	// Cache enables the response cache. Ignored for mutating methods.
	Cache bool
	// CacheTTL overrides the dispatcher default when > 0.
	CacheTTL time.Duration
	// Retry overrides the dispatcher default policy when set.
	Retry *retry.Policy
	// Timeout is a ceiling on a single transport attempt. A timed-out
	// attempt counts toward the policy's attempts.
	Timeout time.Duration
	// SuppressNotify silences the notification collaborator for this call.
	SuppressNotify bool
	// SuccessMessage, when set, is sent as a success notification.
	SuccessMessage string
}

// Do dispatches desc and decodes a JSON response body into T.
func Do[T any](ctx context.Context, d *Dispatcher, desc domain.RequestDescriptor, opts Options) (T, error) {
	var out T
	resp, err := d.Dispatch(ctx, desc, opts)
	if err != nil {
		return out, err
	}
	if len(resp.Body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
