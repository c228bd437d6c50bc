package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"chargehub/internal/events"
)

func staticSnapshot() events.Event {
	return events.Event{Type: events.TypeStatus, Data: events.StatusPayload{OnlineChargers: 2}}
}

func collect(t *testing.T, s *Subscriber, n int) []events.Event {
	t.Helper()
	out := make([]events.Event, 0, n)
	for len(out) < n {
		select {
		case evt, ok := <-s.Events():
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(out), n)
			}
			out = append(out, evt)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestSubscribeDeliversSnapshotFirst(t *testing.T) {
	h := New(8, staticSnapshot, nil, zap.NewNop())

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	h.Publish(events.Event{Type: events.TypeChargerConnected})

	got := collect(t, sub, 2)
	if got[0].Type != events.TypeStatus {
		t.Fatalf("first message must be the status snapshot, got %s", got[0].Type)
	}
	if got[1].Type != events.TypeChargerConnected {
		t.Fatalf("expected charger_connected after snapshot, got %s", got[1].Type)
	}
}

func TestSubscribeDeliversEventsPublishedDuringSnapshot(t *testing.T) {
	var h *Hub
	h = New(8, func() events.Event {
		// Simulates a producer publishing while the snapshot is being
		// assembled for a fresh subscriber.
		h.Publish(events.Event{Type: events.TypeChargerConnected, Data: events.ChargerPayload{ChargerID: "CH1"}})
		return staticSnapshot()
	}, nil, zap.NewNop())

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	got := collect(t, sub, 2)
	types := map[string]bool{}
	for _, evt := range got {
		types[evt.Type] = true
	}
	if !types[events.TypeStatus] || !types[events.TypeChargerConnected] {
		t.Fatalf("expected both the snapshot and the concurrent event, got %v", got)
	}
}

func TestPublishPreservesOrderPerSubscriber(t *testing.T) {
	h := New(32, nil, nil, zap.NewNop())

	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	for i := 0; i < 10; i++ {
		h.Publish(events.Event{Type: fmt.Sprintf("evt-%d", i)})
	}

	for _, sub := range []*Subscriber{a, b} {
		got := collect(t, sub, 10)
		for i, evt := range got {
			if evt.Type != fmt.Sprintf("evt-%d", i) {
				t.Fatalf("out of order at %d: %s", i, evt.Type)
			}
		}
	}
}

func TestSlowSubscriberDropsOldestWithoutBlocking(t *testing.T) {
	h := New(4, nil, nil, zap.NewNop())

	slow := h.Subscribe()
	fast := h.Subscribe()
	defer h.Unsubscribe(slow)
	defer h.Unsubscribe(fast)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.Publish(events.Event{Type: fmt.Sprintf("evt-%d", i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The fast reader drains afterwards and still has the most recent events,
	// in order, even though older ones were dropped.
	got := collect(t, fast, 4)
	if got[len(got)-1].Type != "evt-99" {
		t.Fatalf("expected newest event retained, got %s", got[len(got)-1].Type)
	}
	prev := -1
	for _, evt := range got {
		var n int
		fmt.Sscanf(evt.Type, "evt-%d", &n)
		if n <= prev {
			t.Fatalf("retained events out of order: %v", got)
		}
		prev = n
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New(8, nil, nil, zap.NewNop())
	sub := h.Subscribe()

	h.Unsubscribe(sub)
	h.Unsubscribe(sub) // second call is a no-op

	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	if h.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", h.SubscriberCount())
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	h.Publish(events.Event{Type: events.TypeChargerConnected})
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := New(4, nil, nil, zap.NewNop())

	var subs []*Subscriber
	for i := 0; i < 20; i++ {
		subs = append(subs, h.Subscribe())
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.Publish(events.Event{Type: events.TypeChargerConnected})
		}
	}()
	go func() {
		defer wg.Done()
		for _, s := range subs {
			h.Unsubscribe(s)
		}
	}()
	wg.Wait()

	if h.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", h.SubscriberCount())
	}
}

func TestSendSnapshotOnRequest(t *testing.T) {
	h := New(8, staticSnapshot, nil, zap.NewNop())
	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	h.SendSnapshot(sub)

	got := collect(t, sub, 2)
	for i, evt := range got {
		if evt.Type != events.TypeStatus {
			t.Fatalf("message %d: expected status, got %s", i, evt.Type)
		}
	}
}
