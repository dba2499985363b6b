// Package network tracks whether the backend is reachable.
//
// The Monitor is a two-state machine (online, offline) fed by two inputs:
// platform connectivity signals through SetOnline and a periodic reachability
// probe through Run. Subscribers are told about every transition.
package network

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/vietddude/resilient/internal/core/domain"
	"github.com/vietddude/resilient/internal/metrics"
)

const (
	StateOnline  = "online"
	StateOffline = "offline"

	EventWentOnline  = "went_online"
	EventWentOffline = "went_offline"
)

// Transition reasons.
const (
	ReasonSignal = "signal"
	ReasonProbe  = "probe"
)

// DefaultProbeInterval is how often Run probes reachability.
const DefaultProbeInterval = 30 * time.Second

// Event describes one transition.
type Event struct {
	From   string
	To     string
	At     time.Time
	Reason string
}

// Online reports whether the transition ended online.
func (e Event) Online() bool { return e.To == StateOnline }

// Listener receives transitions. It runs on the goroutine that caused the
// transition and must not block for long.
type Listener func(Event)

// Monitor owns the network state.
type Monitor struct {
	mu      sync.Mutex
	machine *fsm.FSM
	state   domain.NetworkState

	listeners map[int]Listener
	nextID    int

	prober   Prober
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithProber sets the reachability probe used by Check and Run.
func WithProber(p Prober) Option {
	return func(m *Monitor) { m.prober = p }
}

// WithInterval sets the probe period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClock sets the clock stamped on transitions.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.log = l.With("component", "network") }
}

// WithInitialState starts the monitor offline when online is false.
func WithInitialState(online bool) Option {
	return func(m *Monitor) { m.state.IsOnline = online }
}

// NewMonitor creates a monitor. It starts online unless told otherwise.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		state:     domain.NetworkState{IsOnline: true},
		listeners: make(map[int]Listener),
		interval:  DefaultProbeInterval,
		now:       time.Now,
		log:       slog.Default().With("component", "network"),
	}
	for _, opt := range opts {
		opt(m)
	}

	initial := StateOnline
	if !m.state.IsOnline {
		initial = StateOffline
	}
	m.machine = fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: EventWentOffline, Src: []string{StateOnline}, Dst: StateOffline},
			{Name: EventWentOnline, Src: []string{StateOffline}, Dst: StateOnline},
		},
		fsm.Callbacks{},
	)
	metrics.NetworkOnline.Set(boolGauge(m.state.IsOnline))
	return m
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsOnline
}

// State returns a snapshot of the network state.
func (m *Monitor) State() domain.NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := domain.NetworkState{IsOnline: m.state.IsOnline}
	if m.state.LastOnline != nil {
		t := *m.state.LastOnline
		s.LastOnline = &t
	}
	if m.state.LastOffline != nil {
		t := *m.state.LastOffline
		s.LastOffline = &t
	}
	return s
}

// SetOnline applies a platform connectivity signal immediately.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.transition(ctx, online, ReasonSignal)
}

// Subscribe registers fn for transitions and returns its unsubscribe func.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Check probes reachability once and applies the result. Without a prober
// it only reports the current state.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}

	err := m.prober.Probe(ctx)
	if ctx.Err() != nil {
		return m.IsOnline()
	}
	if err != nil {
		m.log.Debug("Reachability probe failed", "error", err)
	}
	m.transition(ctx, err == nil, ReasonProbe)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if m.prober == nil {
		return
	}

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) transition(ctx context.Context, online bool, reason string) {
	name := EventWentOffline
	if online {
		name = EventWentOnline
	}

	m.mu.Lock()
	if !m.machine.Can(name) {
		m.mu.Unlock()
		return
	}

	from := m.machine.Current()
	if err := m.machine.Event(context.WithoutCancel(ctx), name); err != nil {
		m.mu.Unlock()
		m.log.Warn("Network transition rejected", "event", name, "error", err)
		return
	}

	at := m.now()
	m.state.IsOnline = online
	if online {
		m.state.LastOnline = &at
	} else {
		m.state.LastOffline = &at
	}

	ev := Event{From: from, To: m.machine.Current(), At: at, Reason: reason}
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	metrics.NetworkOnline.Set(boolGauge(online))
	metrics.NetworkTransitionsTotal.WithLabelValues(ev.To, reason).Inc()
	if online {
		m.log.Info("Network online", "reason", reason)
	} else {
		m.log.Warn("Network offline", "reason", reason)
	}

	for _, l := range listeners {
		l(ev)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
