// Package api is the facade callers use to talk to the backend. Reads go
// straight to the dispatcher; mutations are diverted to the offline queue
// when the network is down.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/kv"
	"github.com/vietddude/resilient/internal/infra/request"
	"github.com/vietddude/resilient/internal/infra/request/classify"
	"github.com/vietddude/resilient/internal/infra/request/transport"
	"github.com/vietddude/resilient/internal/notify"
)

// TokenNamespace is the persistent store namespace holding the session token.
const TokenNamespace = "auth_token"

// ErrQueued is returned when a mutation was stored for later replay instead
// of being sent. It is not a failure.
var ErrQueued = errors.New("api: request queued for offline replay")

// Dispatcher executes requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, desc domain.RequestDescriptor, opts request.Options) (*transport.Response, error)
}

// Queue stores mutations that cannot be sent.
type Queue interface {
	Enqueue(ctx context.Context, action domain.OfflineAction) (domain.OfflineAction, error)
}

// Connectivity reports whether the backend is reachable.
type Connectivity interface {
	IsOnline() bool
}

// Mutation is a write request.
type Mutation struct {
	// Type labels the action in the offline queue, e.g. "create_post".
	Type     string
	Method   domain.Method
	Endpoint string
	Body     any
	Headers  map[string]string
	// OfflineSafe also queues the mutation when it fails with a network error.
	OfflineSafe bool
}

// Client is the API facade.
type Client struct {
	dispatcher Dispatcher
	queue      Queue
	network    Connectivity
	notifier   notify.Notifier
	log        *slog.Logger
}

// NewClient creates a client. queue and conn may be nil, which disables
// offline diversion.
func NewClient(d Dispatcher, queue Queue, conn Connectivity, n notify.Notifier) *Client {
	if n == nil {
		n = notify.Nop{}
	}
	return &Client{
		dispatcher: d,
		queue:      queue,
		network:    conn,
		notifier:   n,
		log:        slog.Default().With("component", "api"),
	}
}

// Get performs a read.
func (c *Client) Get(ctx context.Context, path string, params map[string]string, opts request.Options) (*transport.Response, error) {
	return c.dispatcher.Dispatch(ctx, domain.RequestDescriptor{
		URL:    path,
		Method: domain.MethodGet,
		Params: params,
	}, opts)
}

// Post creates a resource.
func (c *Client) Post(ctx context.Context, path string, body any, opts request.Options) (*transport.Response, error) {
	return c.Mutate(ctx, Mutation{Method: domain.MethodPost, Endpoint: path, Body: body}, opts)
}

// Put replaces a resource.
func (c *Client) Put(ctx context.Context, path string, body any, opts request.Options) (*transport.Response, error) {
	return c.Mutate(ctx, Mutation{Method: domain.MethodPut, Endpoint: path, Body: body}, opts)
}

// Patch updates a resource.
func (c *Client) Patch(ctx context.Context, path string, body any, opts request.Options) (*transport.Response, error) {
	return c.Mutate(ctx, Mutation{Method: domain.MethodPatch, Endpoint: path, Body: body}, opts)
}

// Delete removes a resource.
func (c *Client) Delete(ctx context.Context, path string, opts request.Options) (*transport.Response, error) {
	return c.Mutate(ctx, Mutation{Method: domain.MethodDelete, Endpoint: path}, opts)
}

// Mutate sends m, or queues it and returns ErrQueued when offline.
func (c *Client) Mutate(ctx context.Context, m Mutation, opts request.Options) (*transport.Response, error) {
	m.Method = m.Method.Normalize()
	if m.Method.IsRead() {
		return nil, fmt.Errorf("api: %s is not a mutating method", m.Method)
	}

	if c.canQueue() && !c.network.IsOnline() {
		return nil, c.enqueue(ctx, m, opts)
	}

	// Offline-safe failures are notified here once we know they were not queued.
	dispatchOpts := opts
	if m.OfflineSafe && c.canQueue() {
		dispatchOpts.SuppressNotify = true
	}

	resp, err := c.dispatcher.Dispatch(ctx, domain.RequestDescriptor{
		URL:     m.Endpoint,
		Method:  m.Method,
		Body:    m.Body,
		Headers: m.Headers,
	}, dispatchOpts)
	if err == nil {
		if dispatchOpts.SuppressNotify && !opts.SuppressNotify && opts.SuccessMessage != "" {
			c.notifier.Notify(notify.Event{Kind: notify.KindSuccess, Message: opts.SuccessMessage})
		}
		return resp, nil
	}

	if m.OfflineSafe && c.canQueue() {
		if classify.IsKind(err, classify.KindNetwork) {
			return nil, c.enqueue(ctx, m, opts)
		}
		if !opts.SuppressNotify && !errors.Is(err, context.Canceled) {
			c.notifyError(err)
		}
	}
	return nil, err
}

func (c *Client) canQueue() bool {
	return c.queue != nil && c.network != nil
}

func (c *Client) enqueue(ctx context.Context, m Mutation, opts request.Options) error {
	body, err := request.EncodeBody(m.Body)
	if err != nil {
		return &classify.Error{
			Kind:    classify.KindUnknown,
			Message: "The request could not be built.",
			Err:     err,
		}
	}

	pending := domain.OfflineAction{
		Type:     m.Type,
		Headers:  m.Headers,
		Endpoint: m.Endpoint,
		Method:   m.Method,
	}
	pending.SetBody(body)

	action, err := c.queue.Enqueue(ctx, pending)
	if err != nil {
		return fmt.Errorf("queue offline action: %w", err)
	}

	c.log.Debug("Diverted mutation to offline queue", "id", action.ID, "endpoint", m.Endpoint)
	if !opts.SuppressNotify {
		c.notifier.Notify(notify.Event{
			Kind:    notify.KindInfo,
			Title:   "Saved offline",
			Message: "You are offline. The change will be sent when the connection returns.",
		})
	}
	return ErrQueued
}

func (c *Client) notifyError(err error) {
	var cerr *classify.Error
	if !errors.As(err, &cerr) {
		return
	}
	c.notifier.Notify(notify.Event{Kind: notify.KindError, Message: cerr.Message})
}

// TokenHeader returns a dispatcher header hook that sends the session token
// stored under TokenNamespace as a bearer token.
func TokenHeader(store kv.Store) request.HeaderFunc {
	return func(ctx context.Context, h http.Header) error {
		if h.Get("Authorization") != "" {
			return nil
		}
		token, ok, err := store.Read(ctx, TokenNamespace)
		if err != nil {
			return fmt.Errorf("read session token: %w", err)
		}
		if !ok || len(token) == 0 {
			return nil
		}

		// Tokens may be stored raw or as a JSON string.
		var s string
		if json.Unmarshal(token, &s) != nil {
			s = string(token)
		}
		if s != "" {
			h.Set("Authorization", "Bearer "+s)
		}
		return nil
	}
}
