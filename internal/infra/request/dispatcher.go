package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/request/cache"
	"github.com/vietddude/resilient/internal/infra/request/cancel"
	"github.com/vietddude/resilient/internal/infra/request/classify"
	"github.com/vietddude/resilient/internal/infra/request/retry"
	"github.com/vietddude/resilient/internal/infra/request/transport"
	"github.com/vietddude/resilient/internal/metrics"
	"github.com/vietddude/resilient/internal/notify"
)

// DefaultCacheTTL applies when neither the call nor the dispatcher sets one.
const DefaultCacheTTL = 5 * time.Minute

// HeaderFunc decorates outgoing headers, e.g. with a session token.
type HeaderFunc func(ctx context.Context, h http.Header) error

// Dispatcher executes logical requests through cache, cancellation and retry.
type Dispatcher struct {
	transport transport.Transport
	cache     *cache.Store[*transport.Response]
	registry  *cancel.Registry
	retrier   *retry.Controller
	notifier  notify.Notifier

	policy    retry.Policy
	cacheTTL  time.Duration
	headers   http.Header
	headerFns []HeaderFunc

	log *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNotifier sets the notification collaborator.
func WithNotifier(n notify.Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithRetryPolicy sets the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithRetryController replaces the retry controller.
func WithRetryController(c *retry.Controller) Option {
	return func(d *Dispatcher) { d.retrier = c }
}

// WithCacheTTL sets the default cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.cacheTTL = ttl }
}

// WithClock sets the clock used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.cache = cache.NewStore[*transport.Response](now) }
}

// WithDefaultHeaders adds headers sent with every request.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(d *Dispatcher) {
		for k, v := range headers {
			d.headers.Set(k, v)
		}
	}
}

// WithHeaderFunc adds a header hook run for every request.
func WithHeaderFunc(fn HeaderFunc) Option {
	return func(d *Dispatcher) { d.headerFns = append(d.headerFns, fn) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l.With("component", "dispatcher") }
}

// NewDispatcher creates a dispatcher over t. The cache and registry are owned
// by the dispatcher and live as long as it does.
func NewDispatcher(t transport.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		cache:     cache.NewStore[*transport.Response](nil),
		registry:  cancel.NewRegistry(),
		retrier:   retry.NewController(),
		notifier:  notify.Nop{},
		policy:    retry.DefaultPolicy,
		cacheTTL:  DefaultCacheTTL,
		headers:   make(http.Header),
		log:       slog.Default().With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes one logical request. The returned response is shared
// with the cache and must be treated as read-only. Errors are *classify.Error.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	desc domain.RequestDescriptor,
	opts Options,
) (*transport.Response, error) {
	desc = desc.WithKeys()
	method := string(desc.Method)
	cacheable := opts.Cache && desc.Method.IsRead()

	if cacheable {
		if resp, ok := d.cache.Get(desc.CacheKey); ok {
			metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			metrics.RequestsTotal.WithLabelValues(method, "cache_hit").Inc()
			return resp, nil
		}
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	req, err := d.buildRequest(ctx, desc)
	if err != nil {
		return nil, d.fail(desc, opts, &classify.Error{
			Kind:    classify.KindUnknown,
			Message: "The request could not be built.",
			Err:     err,
		})
	}

	token := d.registry.Register(ctx, desc.CancellationKey)
	defer d.registry.Release(token)

	policy := d.policy
	if opts.Retry != nil {
		policy = *opts.Retry
	}

	var resp *transport.Response
	err = d.retrier.Execute(token.Context(), policy, func(ctx context.Context) error {
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		start := time.Now()
		r, err := d.transport.Send(ctx, req)
		metrics.RequestLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		if !r.OK() {
			return &classify.StatusError{Status: r.Status, Body: r.Body}
		}
		resp = r
		return nil
	})

	// A request cancelled while its response was in flight never reaches the
	// cache. After Settle a late Cancel no longer applies to this request.
	if d.registry.Settle(token) && err == nil {
		err = context.Canceled
	}
	if err != nil {
		return nil, d.fail(desc, opts, err)
	}

	if cacheable {
		ttl := d.cacheTTL
		if opts.CacheTTL > 0 {
			ttl = opts.CacheTTL
		}
		d.cache.Set(desc.CacheKey, resp, ttl)
	}

	metrics.RequestsTotal.WithLabelValues(method, "success").Inc()
	if opts.SuccessMessage != "" && !opts.SuppressNotify {
		d.notifier.Notify(notify.Event{Kind: notify.KindSuccess, Message: opts.SuccessMessage})
	}
	return resp, nil
}

// Cancel aborts the in-flight request registered under key.
func (d *Dispatcher) Cancel(key string) bool {
	return d.registry.Cancel(key)
}

// CancelAll aborts every in-flight request.
func (d *Dispatcher) CancelAll() int {
	n := d.registry.CancelAll()
	if n > 0 {
		d.log.Info("Cancelled in-flight requests", "count", n)
	}
	return n
}

// InFlight returns the number of registered in-flight requests.
func (d *Dispatcher) InFlight() int {
	return d.registry.Len()
}

// ClearCache drops every cached response.
func (d *Dispatcher) ClearCache() {
	d.cache.Clear()
}

// InvalidateCache drops the cached response for a cache key.
func (d *Dispatcher) InvalidateCache(key string) bool {
	return d.cache.Invalidate(key)
}

// InvalidatePath drops cached reads of path, with or without params.
func (d *Dispatcher) InvalidatePath(path string) int {
	removed := 0
	for _, m := range []domain.Method{domain.MethodGet, domain.MethodHead} {
		key := domain.RequestDescriptor{Method: m, URL: path}.Key()
		if d.cache.Invalidate(key) {
			removed++
		}
		removed += d.cache.InvalidatePrefix(key + "?")
	}
	return removed
}

// CachedEntries returns the number of stored cache entries.
func (d *Dispatcher) CachedEntries() int {
	return d.cache.Len()
}

func (d *Dispatcher) fail(desc domain.RequestDescriptor, opts Options, err error) error {
	classified := classify.Classify(err)
	method := string(desc.Method)

	if errors.Is(classified, context.Canceled) {
		metrics.RequestsTotal.WithLabelValues(method, "canceled").Inc()
		d.log.Debug("Request canceled", "key", desc.CancellationKey)
		return classified
	}

	metrics.RequestsTotal.WithLabelValues(method, "error").Inc()
	metrics.RequestErrorsTotal.WithLabelValues(string(classified.Kind)).Inc()
	d.log.Warn("Request failed",
		"method", method,
		"url", desc.URL,
		"kind", classified.Kind,
		"status", classified.Status,
		"error", classified.Err,
	)

	if !opts.SuppressNotify {
		d.notifier.Notify(notify.Event{
			Kind:    notify.KindError,
			Title:   errorTitle(classified.Kind),
			Message: classified.Message,
		})
	}
	return classified
}

func (d *Dispatcher) buildRequest(ctx context.Context, desc domain.RequestDescriptor) (*transport.Request, error) {
	body, err := EncodeBody(desc.Body)
	if err != nil {
		return nil, err
	}

	header := d.headers.Clone()
	for k, v := range desc.Headers {
		header.Set(k, v)
	}
	for _, fn := range d.headerFns {
		if err := fn(ctx, header); err != nil {
			return nil, fmt.Errorf("decorate headers: %w", err)
		}
	}

	var params url.Values
	if len(desc.Params) > 0 {
		params = make(url.Values, len(desc.Params))
		for k, v := range desc.Params {
			params.Set(k, v)
		}
	}

	return &transport.Request{
		Method: string(desc.Method),
		URL:    desc.URL,
		Params: params,
		Body:   body,
		Header: header,
	}, nil
}

// EncodeBody returns the bytes sent for a request body. Byte slices and
// strings are sent verbatim; anything else is marshalled as JSON.
func EncodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return data, nil
}

func errorTitle(kind classify.Kind) string {
	switch kind {
	case classify.KindAuth:
		return "Authentication error"
	case classify.KindValidation:
		return "Validation error"
	case classify.KindNotFound:
		return "Not found"
	case classify.KindServer:
		return "Server error"
	case classify.KindNetwork:
		return "Network error"
	}
	return "Error"
}
