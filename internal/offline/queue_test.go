package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/kv"
	"github.com/vietddude/resilient/internal/infra/request"
	"github.com/vietddude/resilient/internal/infra/request/classify"
	"github.com/vietddude/resilient/internal/infra/request/transport"
	"github.com/vietddude/resilient/internal/network"
	"github.com/vietddude/resilient/internal/notify"
)

type online bool

func (o online) IsOnline() bool { return bool(o) }

// fakeDispatcher records replayed descriptors and fails endpoints listed in failing.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []domain.RequestDescriptor
	opts    []request.Options
	failing map[string]bool
	block   chan struct{}
}

func (d *fakeDispatcher) Dispatch(
	_ context.Context,
	desc domain.RequestDescriptor,
	opts request.Options,
) (*transport.Response, error) {
	if d.block != nil {
		<-d.block
	}

	d.mu.Lock()
	d.calls = append(d.calls, desc)
	d.opts = append(d.opts, opts)
	fail := d.failing[desc.URL]
	d.mu.Unlock()

	if fail {
		return nil, classify.FromStatus(500, nil)
	}
	return &transport.Response{Status: 200}, nil
}

func (d *fakeDispatcher) urls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	for i, c := range d.calls {
		out[i] = c.URL
	}
	return out
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("action-%d", n.Add(1)) }
}

func newQueue(t *testing.T, store kv.Store, d Dispatcher, conn Connectivity, opts ...Option) *Queue {
	t.Helper()
	clock := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now), WithIDs(sequentialIDs())}, opts...)
	q, err := NewQueue(context.Background(), store, d, conn, opts...)
	require.NoError(t, err)
	return q
}

func action(endpoint string) domain.OfflineAction {
	return domain.OfflineAction{
		Type:     "create_post",
		Payload:  []byte(`{"title":"draft"}`),
		Endpoint: endpoint,
		Method:   domain.MethodPost,
	}
}

func TestQueue_SurvivesReload(t *testing.T) {
	store := kv.NewMemoryStore()
	d := &fakeDispatcher{}
	ctx := context.Background()

	q := newQueue(t, store, d, online(true))
	queued, err := q.Enqueue(ctx, action("/posts"))
	require.NoError(t, err)
	assert.Equal(t, "action-1", queued.ID)
	assert.False(t, queued.Timestamp.IsZero())

	reloaded := newQueue(t, store, d, online(true))
	pending := reloaded.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, queued.ID, pending[0].ID)
	assert.JSONEq(t, `{"title":"draft"}`, string(pending[0].Payload))
	assert.True(t, queued.Timestamp.Equal(pending[0].Timestamp))

	res, err := reloaded.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Attempted: 1, Succeeded: 1}, res)
	assert.Empty(t, reloaded.Pending())

	_, ok, err := store.Read(ctx, Namespace)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_PartialFailureKeepsFailedAction(t *testing.T) {
	store := kv.NewMemoryStore()
	d := &fakeDispatcher{failing: map[string]bool{"/second": true}}
	rec := &notify.Recorder{}
	ctx := context.Background()

	q := newQueue(t, store, d, online(true), WithNotifier(rec))
	for _, ep := range []string{"/first", "/second", "/third"} {
		_, err := q.Enqueue(ctx, action(ep))
		require.NoError(t, err)
	}
	second := q.Pending()[1]

	res, err := q.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Attempted: 3, Succeeded: 2, Failed: 1}, res)
	assert.Equal(t, []string{"/first", "/second", "/third"}, d.urls())

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.True(t, second.Timestamp.Equal(pending[0].Timestamp))

	reloaded := newQueue(t, store, d, online(true))
	require.Len(t, reloaded.Pending(), 1)
	assert.Equal(t, second.ID, reloaded.Pending()[0].ID)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindWarning, events[0].Kind)
}

func TestQueue_ReplaySuppressesNotifications(t *testing.T) {
	d := &fakeDispatcher{}
	q := newQueue(t, kv.NewMemoryStore(), d, online(true), WithReplayOptions(request.Options{Cache: true}))
	_, err := q.Enqueue(context.Background(), action("/posts"))
	require.NoError(t, err)

	_, err = q.Sync(context.Background())
	require.NoError(t, err)

	require.Len(t, d.opts, 1)
	assert.True(t, d.opts[0].SuppressNotify)
	assert.False(t, d.opts[0].Cache)
	assert.Equal(t, domain.MethodPost, d.calls[0].Method)
	assert.Equal(t, "offline:action-1", d.calls[0].CancellationKey)
}

func TestQueue_SyncOfflineIsNoop(t *testing.T) {
	d := &fakeDispatcher{}
	q := newQueue(t, kv.NewMemoryStore(), d, online(false))
	_, err := q.Enqueue(context.Background(), action("/posts"))
	require.NoError(t, err)

	res, err := q.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, d.urls())
	assert.Equal(t, 1, q.Len())
}

func TestQueue_SyncEmptyIsNoop(t *testing.T) {
	rec := &notify.Recorder{}
	q := newQueue(t, kv.NewMemoryStore(), &fakeDispatcher{}, online(true), WithNotifier(rec))

	res, err := q.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, rec.Events())
}

func TestQueue_ConcurrentSyncDoesNotDoubleSubmit(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	q := newQueue(t, kv.NewMemoryStore(), d, online(true))
	for _, ep := range []string{"/a", "/b"} {
		_, err := q.Enqueue(context.Background(), action(ep))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Sync(context.Background())
			assert.NoError(t, err)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(d.block)
	wg.Wait()

	// A later sync may start after the first finished; by then nothing is left.
	assert.Equal(t, []string{"/a", "/b"}, d.urls())
	assert.Zero(t, q.Len())
}

func TestQueue_CallerCancelDoesNotInterruptSharedSync(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	q := newQueue(t, kv.NewMemoryStore(), d, online(true))
	_, err := q.Enqueue(context.Background(), action("/a"))
	require.NoError(t, err)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := q.Sync(ctxA)
		errA <- err
	}()
	time.Sleep(20 * time.Millisecond)

	resB := make(chan Result, 1)
	errB := make(chan error, 1)
	go func() {
		res, err := q.Sync(context.Background())
		resB <- res
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(d.block)
	require.NoError(t, <-errB)
	assert.Equal(t, 1, (<-resB).Succeeded)
	assert.Zero(t, q.Len())
	assert.Equal(t, []string{"/a"}, d.urls())
}

func TestQueue_CloseStopsReplayAndKeepsRemaining(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	q := newQueue(t, kv.NewMemoryStore(), d, online(true))
	for _, ep := range []string{"/a", "/b"} {
		_, err := q.Enqueue(context.Background(), action(ep))
		require.NoError(t, err)
	}

	synced := make(chan error, 1)
	go func() {
		_, err := q.Sync(context.Background())
		synced <- err
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()
	time.Sleep(20 * time.Millisecond)
	close(d.block)
	<-closed

	assert.ErrorIs(t, <-synced, context.Canceled)
	assert.Equal(t, []string{"/a"}, d.urls())
	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "/b", pending[0].Endpoint)

	_, err := q.Sync(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_EnqueueDuringSyncSurvives(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	q := newQueue(t, kv.NewMemoryStore(), d, online(true))
	_, err := q.Enqueue(context.Background(), action("/a"))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := q.Sync(context.Background())
		assert.NoError(t, err)
	}()

	time.Sleep(20 * time.Millisecond)
	late, err := q.Enqueue(context.Background(), action("/late"))
	require.NoError(t, err)
	close(d.block)
	<-done

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, late.ID, pending[0].ID)
}

func TestQueue_SharedStoreKeepsOtherWritersActions(t *testing.T) {
	store := kv.NewMemoryStore()
	d := &fakeDispatcher{}
	ctx := context.Background()

	agent := newQueue(t, store, d, online(true))
	cli := newQueue(t, store, d, online(true), WithIDs(func() string { return "cli-1" }))

	_, err := agent.Enqueue(ctx, action("/a"))
	require.NoError(t, err)
	_, err = cli.Enqueue(ctx, action("/b"))
	require.NoError(t, err)

	res, err := agent.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.ElementsMatch(t, []string{"/a", "/b"}, d.urls())

	_, ok, err := store.Read(ctx, Namespace)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_Clear(t *testing.T) {
	store := kv.NewMemoryStore()
	q := newQueue(t, store, &fakeDispatcher{}, online(true))
	_, err := q.Enqueue(context.Background(), action("/posts"))
	require.NoError(t, err)

	require.NoError(t, q.Clear(context.Background()))
	assert.Zero(t, q.Len())
	_, ok, err := store.Read(context.Background(), Namespace)
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingStore struct{ kv.Store }

func (failingStore) Write(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func (failingStore) Update(context.Context, string, kv.UpdateFunc) error {
	return errors.New("disk full")
}

func TestQueue_EnqueuePersistFailure(t *testing.T) {
	q := newQueue(t, failingStore{kv.NewMemoryStore()}, &fakeDispatcher{}, online(true))

	_, err := q.Enqueue(context.Background(), action("/posts"))
	assert.Error(t, err)
	assert.Zero(t, q.Len())
}

func TestQueue_CorruptStoreFailsLoad(t *testing.T) {
	store := kv.NewMemoryStore()
	require.NoError(t, store.Write(context.Background(), Namespace, []byte("{not json")))

	_, err := NewQueue(context.Background(), store, &fakeDispatcher{}, online(true))
	assert.Error(t, err)
}

func TestQueue_WatchNetworkSyncsOnReconnect(t *testing.T) {
	m := network.NewMonitor(network.WithInitialState(false))
	d := &fakeDispatcher{}
	q := newQueue(t, kv.NewMemoryStore(), d, m)
	_, err := q.Enqueue(context.Background(), action("/posts"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watching := make(chan struct{})
	go func() {
		close(watching)
		q.WatchNetwork(ctx, m)
	}()
	<-watching

	// Subscription happens inside WatchNetwork; keep signalling until it lands.
	require.Eventually(t, func() bool {
		m.SetOnline(context.Background(), false)
		m.SetOnline(context.Background(), true)
		return q.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"/posts"}, d.urls())
}
