// Package notify defines the fire-and-forget notification collaborator used
// to surface classified errors and confirmations to a UI layer.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Kind is the notification severity.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
)

// Event is one notification.
type Event struct {
	Kind    Kind   `json:"kind"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// Notifier receives notifications. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// Func adapts a function to Notifier.
type Func func(Event)

func (f Func) Notify(e Event) { f(e) }

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(Event) {}

// LogNotifier writes notifications to a slog logger.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a notifier logging through l (slog.Default when nil).
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l.With("component", "notify")}
}

func (n *LogNotifier) Notify(e Event) {
	level := slog.LevelInfo
	switch e.Kind {
	case KindError:
		level = slog.LevelError
	case KindWarning:
		level = slog.LevelWarn
	}
	n.log.Log(context.Background(), level, e.Message, "kind", e.Kind, "title", e.Title)
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded notifications.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
