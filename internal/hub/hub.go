package hub

import (
	"sync"

	"go.uber.org/zap"

	"chargehub/internal/events"
	"chargehub/internal/metrics"
)

const defaultBuffer = 64

// SnapshotFunc produces a full-state status event for new or re-syncing
// subscribers.
type SnapshotFunc func() events.Event

// Subscriber is one fan-out target with its own bounded delivery queue.
type Subscriber struct {
	mu     sync.Mutex
	ch     chan events.Event
	closed bool
}

// Events returns the subscriber's delivery channel. Closed on unsubscribe.
func (s *Subscriber) Events() <-chan events.Event {
	return s.ch
}

// enqueue appends without ever blocking the caller: when the queue is full
// the oldest entry is dropped so a stalled consumer lags instead of stalling
// the publisher.
func (s *Subscriber) enqueue(evt events.Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- evt:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
		default:
		}
	}
}

// Hub delivers every published event to every currently-subscribed observer,
// in publish order per observer, without letting one slow observer block the
// others.
type Hub struct {
	mu       sync.RWMutex
	subs     map[*Subscriber]struct{}
	buffer   int
	snapshot SnapshotFunc
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New builds a hub. snapshot supplies the first message for every subscriber.
func New(buffer int, snapshot SnapshotFunc, m *metrics.Metrics, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:     make(map[*Subscriber]struct{}),
		buffer:   buffer,
		snapshot: snapshot,
		metrics:  m,
		logger:   logger,
	}
}

// Subscribe registers a new observer and enqueues the current status snapshot
// so no subscriber ever starts from empty state. Registration happens before
// the snapshot is built: an event published while the snapshot is being
// assembled may land ahead of it in the queue, which the snapshot-replaces
// contract absorbs, whereas an event published to a not-yet-registered
// subscriber would be lost for good. The snapshot is built outside h.mu
// because it reads the producers' own locks.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan events.Event, h.buffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	if h.metrics != nil {
		h.metrics.DashboardSubscribers.Set(float64(len(h.subs)))
	}
	h.mu.Unlock()

	if h.snapshot != nil {
		s.enqueue(h.snapshot())
	}
	return s
}

// Unsubscribe removes the observer and closes its channel. Safe to call
// concurrently with an in-flight publish to the same handle.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, s)
	if h.metrics != nil {
		h.metrics.DashboardSubscribers.Set(float64(len(h.subs)))
	}
	h.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
}

// Publish fans the event out to a snapshot of the current subscriber set.
func (h *Hub) Publish(evt events.Event) {
	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, s := range targets {
		if s.enqueue(evt) {
			dropped++
		}
	}

	if h.metrics != nil {
		h.metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
		if dropped > 0 {
			h.metrics.EventsDropped.Add(float64(dropped))
		}
	}
	if dropped > 0 && h.logger != nil {
		h.logger.Warn("dropped events for lagging subscribers",
			zap.String("event", evt.Type), zap.Int("subscribers", dropped))
	}
}

// SendSnapshot enqueues a fresh full-state snapshot to one subscriber,
// answering an explicit "status" request.
func (h *Hub) SendSnapshot(s *Subscriber) {
	if h.snapshot == nil {
		return
	}
	s.enqueue(h.snapshot())
}

// SubscriberCount reports the current number of observers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
