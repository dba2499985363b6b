package request

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/request/classify"
	"github.com/vietddude/resilient/internal/infra/request/retry"
	"github.com/vietddude/resilient/internal/infra/request/transport"
	"github.com/vietddude/resilient/internal/notify"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingTransport answers every request with the response produced by fn.
type countingTransport struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

func (t *countingTransport) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	t.calls.Add(1)
	return t.fn(ctx, req)
}

func respond(status int, body string) func(context.Context, *transport.Request) (*transport.Response, error) {
	return func(context.Context, *transport.Request) (*transport.Response, error) {
		return &transport.Response{Status: status, Body: []byte(body)}, nil
	}
}

func noSleep() *retry.Controller {
	return retry.NewController().WithSleep(func(context.Context, time.Duration) error { return nil })
}

func TestDispatch_CachesReadsUntilTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := &countingTransport{fn: respond(http.StatusOK, `[{"id":1}]`)}
	d := NewDispatcher(tr, WithClock(clock.Now), WithRetryController(noSleep()))

	desc := domain.RequestDescriptor{URL: "/posts", Params: map[string]string{"page": "1"}}
	opts := Options{Cache: true, CacheTTL: 5000 * time.Millisecond}

	first, err := d.Dispatch(context.Background(), desc, opts)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1}]`, string(first.Body))

	clock.Advance(1000 * time.Millisecond)
	second, err := d.Dispatch(context.Background(), desc, opts)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, tr.calls.Load())

	clock.Advance(5000 * time.Millisecond)
	_, err = d.Dispatch(context.Background(), desc, opts)
	require.NoError(t, err)
	assert.EqualValues(t, 2, tr.calls.Load())
}

func TestDispatch_CacheDisabledAlwaysSends(t *testing.T) {
	tr := &countingTransport{fn: respond(http.StatusOK, `{}`)}
	d := NewDispatcher(tr)

	desc := domain.RequestDescriptor{URL: "/posts"}
	for i := 0; i < 3; i++ {
		_, err := d.Dispatch(context.Background(), desc, Options{})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, tr.calls.Load())
	assert.Zero(t, d.CachedEntries())
}

func TestDispatch_MutationsNeverCached(t *testing.T) {
	tr := &countingTransport{fn: respond(http.StatusCreated, `{"id":7}`)}
	d := NewDispatcher(tr)

	desc := domain.RequestDescriptor{URL: "/posts", Method: domain.MethodPost, Body: map[string]string{"title": "x"}}
	for i := 0; i < 2; i++ {
		_, err := d.Dispatch(context.Background(), desc, Options{Cache: true})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, tr.calls.Load())
	assert.Zero(t, d.CachedEntries())
}

func TestDispatch_RetriesServerErrors(t *testing.T) {
	tr := &countingTransport{fn: respond(http.StatusServiceUnavailable, `{}`)}
	rec := &notify.Recorder{}
	d := NewDispatcher(tr, WithRetryController(noSleep()), WithNotifier(rec))

	_, err := d.Dispatch(context.Background(), domain.RequestDescriptor{URL: "/posts"}, Options{
		Retry: &retry.Policy{Enabled: true, MaxAttempts: 3, BaseDelay: time.Millisecond},
	})

	var cerr *classify.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, classify.KindServer, cerr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, cerr.Status)
	assert.EqualValues(t, 3, tr.calls.Load())

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindError, events[0].Kind)
	assert.Equal(t, "Server error", events[0].Title)
}

func TestDispatch_AuthErrorNotRetried(t *testing.T) {
	tr := &countingTransport{fn: respond(http.StatusUnauthorized, `{"message":"token expired"}`)}
	d := NewDispatcher(tr, WithRetryController(noSleep()))

	_, err := d.Dispatch(context.Background(), domain.RequestDescriptor{URL: "/me"}, Options{})

	assert.True(t, classify.IsKind(err, classify.KindAuth))
	assert.EqualValues(t, 1, tr.calls.Load())
	var cerr *classify.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "token expired", cerr.Message)
}

func TestDispatch_ValidationErrorFields(t *testing.T) {
	tr := &countingTransport{fn: respond(http.StatusBadRequest,
		`{"message":"invalid","errors":[{"field":"title","message":"required"}]}`)}
	d := NewDispatcher(tr)

	_, err := d.Dispatch(context.Background(), domain.RequestDescriptor{URL: "/posts", Method: domain.MethodPost}, Options{})

	var cerr *classify.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, classify.KindValidation, cerr.Kind)
	assert.Equal(t, []classify.FieldError{{Field: "title", Message: "required"}}, cerr.ValidationErrors)
}

func TestDispatch_SuppressNotify(t *testing.T) {
	tr := &countingTransport{fn: respond(http.StatusNotFound, `{}`)}
	rec := &notify.Recorder{}
	d := NewDispatcher(tr, WithNotifier(rec))

	_, err := d.Dispatch(context.Background(), domain.RequestDescriptor{URL: "/missing"}, Options{SuppressNotify: true})

	assert.True(t, classify.IsKind(err, classify.KindNotFound))
	assert.Empty(t, rec.Events())
}

func TestDispatch_SuccessMessage(t *testing.T) {
	tr := &countingTransport{fn: respond(http.StatusOK, `{}`)}
	rec := &notify.Recorder{}
	d := NewDispatcher(tr, WithNotifier(rec))

	_, err := d.Dispatch(context.Background(), domain.RequestDescriptor{URL: "/posts/1", Method: domain.MethodDelete},
		Options{SuccessMessage: "Post deleted"})
	require.NoError(t, err)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.Event{Kind: notify.KindSuccess, Message: "Post deleted"}, events[0])
}

func TestDispatch_CancelLeavesNoTrace(t *testing.T) {
	started := make(chan struct{})
	tr := &countingTransport{fn: func(ctx context.Context, _ *transport.Request) (*transport.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rec := &notify.Recorder{}
	d := NewDispatcher(tr, WithNotifier(rec), WithRetryController(noSleep()))

	desc := domain.RequestDescriptor{URL: "/slow", CancellationKey: "slow"}
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), desc, Options{Cache: true})
		errCh <- err
	}()

	<-started
	require.True(t, d.Cancel("slow"))

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, classify.IsRetryable(err))
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after cancel")
	}

	assert.EqualValues(t, 1, tr.calls.Load())
	assert.Zero(t, d.CachedEntries())
	assert.Zero(t, d.InFlight())
	assert.Empty(t, rec.Events())
}

func TestDispatch_CancelAfterResponseSkipsCache(t *testing.T) {
	var d *Dispatcher
	tr := &countingTransport{fn: func(context.Context, *transport.Request) (*transport.Response, error) {
		// The response is already produced when the cancel lands.
		d.CancelAll()
		return &transport.Response{Status: http.StatusOK, Body: []byte(`{}`)}, nil
	}}
	d = NewDispatcher(tr)

	_, err := d.Dispatch(context.Background(), domain.RequestDescriptor{URL: "/posts"}, Options{Cache: true})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, d.CachedEntries())
}

func TestDispatch_RacingCancelNeverCachesCanceledRequest(t *testing.T) {
	tr := &countingTransport{fn: respond(http.StatusOK, `{}`)}
	d := NewDispatcher(tr)
	desc := domain.RequestDescriptor{URL: "/posts"}
	key := desc.WithKeys().CancellationKey

	for i := 0; i < 200; i++ {
		d.ClearCache()
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-stop:
					return
				default:
					d.Cancel(key)
				}
			}
		}()

		_, err := d.Dispatch(context.Background(), desc, Options{Cache: true})
		close(stop)
		<-done

		if err != nil {
			require.ErrorIs(t, err, context.Canceled)
			require.Zero(t, d.CachedEntries(), "iteration %d", i)
		} else {
			require.Equal(t, 1, d.CachedEntries(), "iteration %d", i)
		}
	}
}

func TestDispatch_AttemptTimeoutCountsAsAttempt(t *testing.T) {
	tr := &countingTransport{fn: func(ctx context.Context, _ *transport.Request) (*transport.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	d := NewDispatcher(tr, WithRetryController(noSleep()))

	_, err := d.Dispatch(context.Background(), domain.RequestDescriptor{URL: "/slow"}, Options{
		Timeout: 10 * time.Millisecond,
		Retry:   &retry.Policy{Enabled: true, MaxAttempts: 2, BaseDelay: time.Millisecond},
	})

	assert.True(t, classify.IsKind(err, classify.KindNetwork))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 2, tr.calls.Load())
}

func TestDispatch_Headers(t *testing.T) {
	var got http.Header
	tr := &countingTransport{fn: func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		got = req.Header
		return &transport.Response{Status: http.StatusOK}, nil
	}}
	d := NewDispatcher(tr,
		WithDefaultHeaders(map[string]string{"X-Client": "resilient", "X-Trace": "default"}),
		WithHeaderFunc(func(_ context.Context, h http.Header) error {
			h.Set("Authorization", "Bearer abc")
			return nil
		}),
	)

	_, err := d.Dispatch(context.Background(), domain.RequestDescriptor{
		URL:     "/me",
		Headers: map[string]string{"X-Trace": "call"},
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "resilient", got.Get("X-Client"))
	assert.Equal(t, "call", got.Get("X-Trace"))
	assert.Equal(t, "Bearer abc", got.Get("Authorization"))
}

func TestDispatch_HeaderHookFailure(t *testing.T) {
	tr := &countingTransport{fn: respond(http.StatusOK, `{}`)}
	d := NewDispatcher(tr, WithHeaderFunc(func(context.Context, http.Header) error {
		return errors.New("store unavailable")
	}))

	_, err := d.Dispatch(context.Background(), domain.RequestDescriptor{URL: "/me"}, Options{})

	assert.True(t, classify.IsKind(err, classify.KindUnknown))
	assert.Zero(t, tr.calls.Load())
}

func TestInvalidatePath(t *testing.T) {
	tr := &countingTransport{fn: respond(http.StatusOK, `{}`)}
	d := NewDispatcher(tr)
	ctx := context.Background()

	for _, desc := range []domain.RequestDescriptor{
		{URL: "/posts"},
		{URL: "/posts", Params: map[string]string{"page": "2"}},
		{URL: "/users"},
	} {
		_, err := d.Dispatch(ctx, desc, Options{Cache: true})
		require.NoError(t, err)
	}
	require.Equal(t, 3, d.CachedEntries())

	assert.Equal(t, 2, d.InvalidatePath("/posts"))
	assert.Equal(t, 1, d.CachedEntries())

	d.ClearCache()
	assert.Zero(t, d.CachedEntries())
}

func TestDo_DecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"title":"hello"}]`))
	}))
	defer srv.Close()

	d := NewDispatcher(transport.NewHTTPTransport(srv.URL, 5*time.Second))

	type post struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	posts, err := Do[[]post](context.Background(), d, domain.RequestDescriptor{
		URL:    "/posts",
		Params: map[string]string{"page": "1"},
	}, Options{Cache: true})

	require.NoError(t, err)
	assert.Equal(t, []post{{ID: 1, Title: "hello"}}, posts)
}
