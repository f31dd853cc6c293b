package events

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus(4, zerolog.Nop())
	a, cancelA := b.Subscribe()
	c, cancelC := b.Subscribe()
	defer cancelA()
	defer cancelC()

	b.Emit("chat-created", map[string]any{"chat_id": 1})

	for _, ch := range []<-chan Event{a, c} {
		ev := <-ch
		if ev.Kind != "chat-created" || ev.ID == "" || ev.At.IsZero() {
			t.Fatalf("unexpected event: %+v", ev)
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(1, zerolog.Nop())
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Emit("a", nil)
	b.Emit("b", nil) // dropped

	if ev := <-ch; ev.Kind != "a" {
		t.Fatalf("first event = %q", ev.Kind)
	}
	select {
	case ev := <-ch:
		t.Fatalf("expected no more events, got %q", ev.Kind)
	default:
	}
}

func TestBus_CancelClosesAndUnsubscribes(t *testing.T) {
	b := NewBus(1, zerolog.Nop())
	ch, cancel := b.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("subscribers = %d", b.Subscribers())
	}
	b.Emit("after", nil)
}
