package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"log/slog"
	"time"
)

// Audience resolves the live connections interested in an event.
type Audience interface {
	SinksFor(userID domain.UserID) []contract.EventSink
	SinksExcept(userID domain.UserID) []contract.EventSink
}

// EventFanout broadcasts relay events to permanent sinks and to the connections concerned.
//
// It provides best-effort fan-out with no guarantees regarding durability or retries.
// Presence changes go to every connection of other users, delivery statuses to the
// sender's connections. Message deliveries never go through here.
type EventFanout struct {
	log         *slog.Logger
	events      chan event.DomainEvent
	audience    Audience
	sinks       []contract.EventSink
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, events chan event.DomainEvent, audience Audience, sinkTimeout time.Duration) *EventFanout {
	return &EventFanout{log: log, events: events, audience: audience, sinkTimeout: sinkTimeout}
}

// Add registers permanent sinks, it must be called before Run.
func (w *EventFanout) Add(sinks ...contract.EventSink) *EventFanout {
	w.sinks = append(w.sinks, sinks...)
	return w
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case evt, ok := <-w.events:
			if !ok {
				w.log.Debug("Channel is closed")
				return nil
			}
			w.Fanout(ctx, evt)
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		}
	}
}

// Fanout One sink for each event
func (w *EventFanout) Fanout(ctx context.Context, evt event.DomainEvent) {
	for _, sink := range append(w.audienceOf(evt), w.sinks...) {
		w.consume(ctx, sink, evt)
	}
}

func (w *EventFanout) audienceOf(evt event.DomainEvent) []contract.EventSink {
	if w.audience == nil {
		return nil
	}
	switch e := evt.(type) {
	case event.PresenceChanged:
		return w.audience.SinksExcept(e.UserID)
	case event.DeliveryStatus:
		return w.audience.SinksFor(e.SenderID)
	default:
		return nil
	}
}

func (w *EventFanout) consume(ctx context.Context, sink contract.EventSink, evt event.DomainEvent) {
	sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
	defer cancel()
	if err := sink.Consume(sinkCtx, evt); err != nil {
		w.log.Debug("Sink failed to consume event", "event", evt.EventName(), "error", err)
	}
}
