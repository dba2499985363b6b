// Package offline persists mutating requests that could not be sent and
// replays them when connectivity returns.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/infra/kv"
	"github.com/vietddude/resilient/internal/infra/request"
	"github.com/vietddude/resilient/internal/infra/request/transport"
	"github.com/vietddude/resilient/internal/metrics"
	"github.com/vietddude/resilient/internal/network"
	"github.com/vietddude/resilient/internal/notify"
)

// Namespace is the persistent store namespace holding the pending list.
const Namespace = "offline_queue"

// ErrClosed is returned by Sync after Close.
var ErrClosed = errors.New("offline queue closed")

// Dispatcher submits replayed actions.
type Dispatcher interface {
	Dispatch(ctx context.Context, desc domain.RequestDescriptor, opts request.Options) (*transport.Response, error)
}

// Connectivity reports whether the backend is reachable.
type Connectivity interface {
	IsOnline() bool
}

// Result summarizes one sync.
type Result struct {
	Attempted int
	Succeeded int
	Failed    int
	// Skipped is true when the sync did nothing because the network is offline.
	Skipped bool
}

// Queue is the offline mutation queue.
type Queue struct {
	mu      sync.Mutex
	actions []domain.OfflineAction

	store      kv.Store
	dispatcher Dispatcher
	network    Connectivity
	notifier   notify.Notifier
	replayOpts request.Options

	flight singleflight.Group
	// life bounds replays; callers of Sync only bound their own wait.
	life      context.Context
	stop      context.CancelFunc
	lifeMu    sync.Mutex
	closed    bool
	replaying chan struct{}

	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithNotifier sets the notification collaborator used for sync summaries.
func WithNotifier(n notify.Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithClock sets the clock used to stamp enqueued actions.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithIDs sets the action ID generator.
func WithIDs(newID func() string) Option {
	return func(q *Queue) { q.newID = newID }
}

// WithReplayOptions sets dispatch options for replays. Notifications are
// always suppressed.
func WithReplayOptions(opts request.Options) Option {
	return func(q *Queue) { q.replayOpts = opts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l.With("component", "offline") }
}

// NewQueue creates a queue and loads the pending list from store.
func NewQueue(
	ctx context.Context,
	store kv.Store,
	dispatcher Dispatcher,
	conn Connectivity,
	opts ...Option,
) (*Queue, error) {
	q := &Queue{
		store:      store,
		dispatcher: dispatcher,
		network:    conn,
		notifier:   notify.Nop{},
		now:        time.Now,
		newID:      uuid.NewString,
		log:        slog.Default().With("component", "offline"),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.life, q.stop = context.WithCancel(context.WithoutCancel(ctx))

	if err := q.load(ctx); err != nil {
		q.stop()
		return nil, err
	}
	return q, nil
}

func (q *Queue) load(ctx context.Context) error {
	n, err := q.refresh(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		q.log.Info("Loaded offline queue", "pending", n)
	}
	return nil
}

// refresh replaces the in-memory list with the stored one, picking up actions
// written by other processes sharing the store.
func (q *Queue) refresh(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, ok, err := q.store.Read(ctx, Namespace)
	if err != nil {
		return 0, fmt.Errorf("failed to load offline queue: %w", err)
	}
	actions, err := decodeActions(data, ok)
	if err != nil {
		return 0, err
	}

	q.actions = actions
	metrics.OfflineQueueDepth.Set(float64(len(actions)))
	return len(actions), nil
}

// Enqueue stamps action with an ID and timestamp and persists it before
// returning. The stored action is returned.
func (q *Queue) Enqueue(ctx context.Context, action domain.OfflineAction) (domain.OfflineAction, error) {
	action.ID = q.newID()
	action.Timestamp = q.now()
	action.Method = action.Method.Normalize()

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.updateLocked(ctx, func(stored []domain.OfflineAction) []domain.OfflineAction {
		return append(stored, action)
	}); err != nil {
		return domain.OfflineAction{}, err
	}

	q.log.Info("Queued offline action",
		"id", action.ID,
		"type", action.Type,
		"method", action.Method,
		"endpoint", action.Endpoint,
	)
	return action, nil
}

// Pending returns the queued actions in timestamp order.
func (q *Queue) Pending() []domain.OfflineAction {
	q.mu.Lock()
	out := append([]domain.OfflineAction(nil), q.actions...)
	q.mu.Unlock()

	sortByTimestamp(out)
	return out
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Clear drops every queued action.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.updateLocked(ctx, func([]domain.OfflineAction) []domain.OfflineAction {
		return nil
	})
}

// Sync replays pending actions if online. Overlapping calls share one replay,
// which runs until it finishes or the queue is closed. A caller whose ctx ends
// stops waiting without interrupting the replay for the others.
func (q *Queue) Sync(ctx context.Context) (Result, error) {
	ch := q.flight.DoChan("sync", func() (any, error) {
		done, err := q.beginReplay()
		if err != nil {
			return Result{}, err
		}
		defer close(done)
		return q.replay(q.life)
	})

	select {
	case r := <-ch:
		if r.Shared {
			q.log.Debug("Joined in-progress offline sync")
		}
		res, _ := r.Val.(Result)
		return res, r.Err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("offline sync interrupted: %w", ctx.Err())
	}
}

func (q *Queue) beginReplay() (chan struct{}, error) {
	q.lifeMu.Lock()
	defer q.lifeMu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	q.replaying = make(chan struct{})
	return q.replaying, nil
}

// Close interrupts a running replay and waits for it to persist its progress.
// Actions it did not reach stay queued.
func (q *Queue) Close() {
	q.lifeMu.Lock()
	q.closed = true
	q.stop()
	done := q.replaying
	q.lifeMu.Unlock()

	if done != nil {
		<-done
	}
}

func (q *Queue) replay(ctx context.Context) (Result, error) {
	if !q.network.IsOnline() {
		return Result{Skipped: true}, nil
	}

	if _, err := q.refresh(ctx); err != nil {
		return Result{}, err
	}
	pending := q.Pending()
	if len(pending) == 0 {
		return Result{}, nil
	}

	q.log.Info("Syncing offline queue", "pending", len(pending))

	opts := q.replayOpts
	opts.SuppressNotify = true
	opts.Cache = false

	succeeded := make(map[string]struct{}, len(pending))
	res := Result{Attempted: len(pending)}
	for _, action := range pending {
		if ctx.Err() != nil {
			break
		}

		if _, err := q.dispatcher.Dispatch(ctx, action.Descriptor(), opts); err != nil {
			metrics.OfflineReplaysTotal.WithLabelValues("failed").Inc()
			q.log.Warn("Offline action replay failed",
				"id", action.ID,
				"type", action.Type,
				"error", err,
			)
			continue
		}
		res.Succeeded++
		succeeded[action.ID] = struct{}{}
		metrics.OfflineReplaysTotal.WithLabelValues("succeeded").Inc()
	}
	// Actions not reached because ctx ended stay queued.
	res.Failed = res.Attempted - res.Succeeded

	if err := q.removeSucceeded(context.WithoutCancel(ctx), succeeded); err != nil {
		return res, err
	}

	q.summarize(res)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("offline sync interrupted: %w", err)
	}
	return res, nil
}

// removeSucceeded drops replayed actions from the current list so actions
// enqueued during the sync survive.
func (q *Queue) removeSucceeded(ctx context.Context, succeeded map[string]struct{}) error {
	if len(succeeded) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.updateLocked(ctx, func(stored []domain.OfflineAction) []domain.OfflineAction {
		remaining := stored[:0]
		for _, a := range stored {
			if _, ok := succeeded[a.ID]; !ok {
				remaining = append(remaining, a)
			}
		}
		return remaining
	})
}

func (q *Queue) summarize(res Result) {
	switch {
	case res.Failed == 0:
		q.notifier.Notify(notify.Event{
			Kind:    notify.KindSuccess,
			Title:   "Back online",
			Message: fmt.Sprintf("Synced %d offline change(s).", res.Succeeded),
		})
	case res.Succeeded == 0:
		q.notifier.Notify(notify.Event{
			Kind:    notify.KindError,
			Title:   "Sync failed",
			Message: fmt.Sprintf("%d offline change(s) could not be synced and will be retried.", res.Failed),
		})
	default:
		q.notifier.Notify(notify.Event{
			Kind:  notify.KindWarning,
			Title: "Partially synced",
			Message: fmt.Sprintf("Synced %d offline change(s); %d will be retried.",
				res.Succeeded, res.Failed),
		})
	}
}

// Subscriber publishes network transitions.
type Subscriber interface {
	Subscribe(fn network.Listener) (unsubscribe func())
}

// WatchNetwork syncs on every offline to online transition until ctx is done.
func (q *Queue) WatchNetwork(ctx context.Context, m Subscriber) {
	events := make(chan network.Event, 1)
	unsubscribe := m.Subscribe(func(e network.Event) {
		if !e.Online() {
			return
		}
		select {
		case events <- e:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			_, err := q.Sync(ctx)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
				q.log.Error("Offline sync failed", "error", err)
			}
		}
	}
}

// updateLocked applies fn to the stored list atomically and adopts the
// result. Callers hold q.mu.
func (q *Queue) updateLocked(ctx context.Context, fn func([]domain.OfflineAction) []domain.OfflineAction) error {
	var next []domain.OfflineAction
	err := q.store.Update(ctx, Namespace, func(cur []byte, ok bool) ([]byte, error) {
		stored, err := decodeActions(cur, ok)
		if err != nil {
			return nil, err
		}
		next = fn(stored)
		if len(next) == 0 {
			return nil, nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("failed to encode offline queue: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist offline queue: %w", err)
	}

	q.actions = next
	metrics.OfflineQueueDepth.Set(float64(len(next)))
	return nil
}

func decodeActions(data []byte, ok bool) ([]domain.OfflineAction, error) {
	if !ok || len(data) == 0 {
		return nil, nil
	}
	var actions []domain.OfflineAction
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("failed to decode offline queue: %w", err)
	}
	return actions, nil
}

func sortByTimestamp(actions []domain.OfflineAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Timestamp.Before(actions[j].Timestamp)
	})
}
