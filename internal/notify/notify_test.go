package notify

import (
	"context"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		return evt, ok
	case <-time.After(200 * time.Millisecond):
		return Event{}, false
	}
}

func TestInMemoryFiltersBySession(t *testing.T) {
	bus := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	one, _ := bus.Subscribe(ctx, "s1")
	all, _ := bus.Subscribe(ctx, "")

	_ = bus.Publish(ctx, Event{Type: TypeSessionEnded, SessionID: "s2", Reason: ReasonManual})
	_ = bus.Publish(ctx, Event{Type: TypeSessionEnded, SessionID: "s1", Reason: ReasonAutoExpired})

	evt, ok := recv(t, one)
	if !ok || evt.SessionID != "s1" || evt.Reason != ReasonAutoExpired {
		t.Errorf("s1 subscriber got %+v (ok=%v), want s1 auto-expired", evt, ok)
	}
	if evt, ok := recv(t, one); ok {
		t.Errorf("s1 subscriber got extra event %+v", evt)
	}

	for _, want := range []string{"s2", "s1"} {
		evt, ok := recv(t, all)
		if !ok || evt.SessionID != want {
			t.Errorf("wildcard subscriber got %+v, want session %s", evt, want)
		}
	}
}

func TestInMemoryDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _ = bus.Subscribe(ctx, "")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = bus.Publish(ctx, Event{SessionID: "s"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestDiscardClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := Discard{}.Subscribe(ctx, "")
	cancel()
	if _, ok := <-ch; ok {
		t.Error("Discard channel delivered an event")
	}
}
