package bus

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(0, testLogger())

	var received int32
	eb.On(EventMessageAnswered, func(e Event) {
		if e.Payload["conversation"] != "c1" {
			t.Errorf("unexpected payload %v", e.Payload)
		}
		atomic.AddInt32(&received, 1)
	})

	eb.Emit(Event{Type: EventMessageAnswered, Payload: map[string]any{"conversation": "c1"}})
	eb.Emit(Event{Type: EventMessageFallback})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(0, testLogger())

	var count int32
	eb.On("*", func(e Event) { atomic.AddInt32(&count, 1) })

	eb.Emit(Event{Type: EventIndexPublished})
	eb.Emit(Event{Type: EventIndexRejected})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(0, testLogger())

	var count int32
	first := eb.On("x", func(e Event) { atomic.AddInt32(&count, 1) })
	eb.On("x", func(e Event) { atomic.AddInt32(&count, 10) })
	eb.Off("x", first)
	// IDs stay unique after removal.
	third := eb.On("x", func(e Event) { atomic.AddInt32(&count, 100) })
	if third == first {
		t.Fatalf("handler ID reused: %s", third)
	}

	eb.Emit(Event{Type: "x"})
	if got := atomic.LoadInt32(&count); got != 110 {
		t.Errorf("expected 110, got %d", got)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(0, testLogger())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	eb.Emit(Event{Type: EventConversationStarted, Timestamp: base})
	eb.Emit(Event{Type: EventMessageAnswered, Timestamp: base.Add(time.Minute)})
	eb.Emit(Event{Type: EventMessageAnswered, Timestamp: base.Add(2 * time.Minute)})
	eb.Emit(Event{Type: EventConversationEnded, Timestamp: base.Add(3 * time.Minute)})

	if got := eb.Replay("*", time.Time{}, 0); len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	if got := eb.Replay(EventMessageAnswered, time.Time{}, 0); len(got) != 2 {
		t.Fatalf("expected 2 answered events, got %d", len(got))
	}
	got := eb.Replay("*", base.Add(90*time.Second), 0)
	if len(got) != 2 || got[0].Type != EventMessageAnswered {
		t.Fatalf("unexpected since filter result %+v", got)
	}
	got = eb.Replay("*", time.Time{}, 1)
	if len(got) != 1 || got[0].Type != EventConversationEnded {
		t.Fatalf("limit should keep the newest events, got %+v", got)
	}
	if got := eb.Replay("none", time.Time{}, 0); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(5, testLogger())
	for i := 0; i < 12; i++ {
		eb.Emit(Event{Type: "tick", Payload: map[string]any{"i": i}})
	}
	if eb.HistoryLen() != 5 {
		t.Fatalf("expected history of 5, got %d", eb.HistoryLen())
	}
	events := eb.Replay("*", time.Time{}, 0)
	if events[0].Payload["i"] != 7 || events[4].Payload["i"] != 11 {
		t.Fatalf("expected the newest five events, got first=%v last=%v", events[0].Payload, events[4].Payload)
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(0, testLogger())
	var after int32
	eb.On("boom", func(e Event) { panic("handler failure") })
	eb.On("boom", func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: "boom"})
	if atomic.LoadInt32(&after) != 1 {
		t.Fatal("handlers after a panicking one should still run")
	}
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus(0, testLogger())
	before := time.Now()
	eb.Emit(Event{Type: "t"})
	events := eb.Replay("t", time.Time{}, 0)
	if events[0].Timestamp.Before(before) {
		t.Fatal("timestamp should be set on emit")
	}
}
