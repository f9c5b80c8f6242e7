package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"sync"

	"github.com/samber/lo"
)

// recordingSink keeps every consumed event.
type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
	err    error
}

func (s *recordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Events() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.DomainEvent, len(s.events))
	copy(out, s.events)
	return out
}

// containsSink compares by identity, zero valued sinks are deeply equal.
func containsSink(sinks []contract.EventSink, sink contract.EventSink) bool {
	return lo.ContainsBy(sinks, func(s contract.EventSink) bool { return s == sink })
}

func eventsOf[T event.DomainEvent](s *recordingSink) []T {
	var out []T
	for _, e := range s.Events() {
		if typed, ok := e.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// presenceLog records presence transitions in order.
type presenceLog struct {
	mu     sync.Mutex
	events []event.PresenceChanged
}

func (l *presenceLog) record(evt event.PresenceChanged) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *presenceLog) snapshot() []event.PresenceChanged {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event.PresenceChanged, len(l.events))
	copy(out, l.events)
	return out
}

// queueDispatcher records dispatched deliveries, full reports a saturated queue.
type queueDispatcher struct {
	mu         sync.Mutex
	deliveries []domain.Delivery
	full       bool
}

func (d *queueDispatcher) Dispatch(delivery domain.Delivery) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.full {
		return false
	}
	d.deliveries = append(d.deliveries, delivery)
	return true
}

func (d *queueDispatcher) snapshot() []domain.Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Delivery, len(d.deliveries))
	copy(out, d.deliveries)
	return out
}

func (d *queueDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deliveries)
}

// staticLookup is a hand-driven connection table.
type staticLookup struct {
	mu    sync.Mutex
	conns map[domain.UserID][]domain.ConnectionID
}

func newStaticLookup() *staticLookup {
	return &staticLookup{conns: make(map[domain.UserID][]domain.ConnectionID)}
}

func (s *staticLookup) set(userID domain.UserID, conns ...domain.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[userID] = conns
}

func (s *staticLookup) ConnectionsFor(userID domain.UserID) []domain.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ConnectionID(nil), s.conns[userID]...)
}

func (s *staticLookup) OwnerOf(connID domain.ConnectionID) (domain.UserID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for user, conns := range s.conns {
		for _, c := range conns {
			if c == connID {
				return user, true
			}
		}
	}
	return "", false
}

// statusLog records terminal transitions.
type statusLog struct {
	mu       sync.Mutex
	statuses []event.DeliveryStatus
}

func (l *statusLog) record(status event.DeliveryStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, status)
}

func (l *statusLog) snapshot() []event.DeliveryStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event.DeliveryStatus, len(l.statuses))
	copy(out, l.statuses)
	return out
}
