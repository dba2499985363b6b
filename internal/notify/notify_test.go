package notify

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogNotifierLevels(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	n.Notify(Event{Kind: KindError, Message: "boom"})
	n.Notify(Event{Kind: KindWarning, Message: "careful"})
	n.Notify(Event{Kind: KindSuccess, Title: "Saved", Message: "done"})

	out := buf.String()
	for _, want := range []string{"level=ERROR msg=boom", "level=WARN msg=careful", "level=INFO msg=done"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	var n Notifier = &r

	n.Notify(Event{Kind: KindInfo, Message: "a"})
	n.Notify(Event{Kind: KindInfo, Message: "b"})

	events := r.Events()
	if len(events) != 2 || events[1].Message != "b" {
		t.Errorf("unexpected events %+v", events)
	}
}
