package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DeliveryQueue is the bounded hand-off between the router/ledger and the delivery workers.
type DeliveryQueue chan domain.Delivery

// Dispatch never blocks, it reports false when the queue is full.
func (q DeliveryQueue) Dispatch(d domain.Delivery) bool {
	select {
	case q <- d:
		return true
	default:
		return false
	}
}

type SinkResolver interface {
	Sink(connID domain.ConnectionID) (contract.EventSink, bool)
}

// DeliveryTracker receives the outcome of every inbound attempt.
type DeliveryTracker interface {
	Attempted(id domain.MessageID, connID domain.ConnectionID)
	TargetFailed(id domain.MessageID, connID domain.ConnectionID, cause error)
	TargetGone(id domain.MessageID, connID domain.ConnectionID)
}

// DeliveryWorker pushes queued deliveries to connection sinks.
// Echo deliveries are best effort, inbound outcomes go back to the tracker.
type DeliveryWorker struct {
	log         *slog.Logger
	queue       DeliveryQueue
	sinks       SinkResolver
	tracker     DeliveryTracker
	sinkTimeout time.Duration
}

func NewDeliveryWorker(
	log *slog.Logger,
	queue DeliveryQueue,
	sinks SinkResolver,
	tracker DeliveryTracker,
	sinkTimeout time.Duration,
) *DeliveryWorker {
	return &DeliveryWorker{log: log, queue: queue, sinks: sinks, tracker: tracker, sinkTimeout: sinkTimeout}
}

func (w *DeliveryWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker")
			return nil
		case d, ok := <-w.queue:
			if !ok {
				w.log.Debug("Channel is closed")
				return nil
			}
			w.Deliver(ctx, d)
		}
	}
}

func (w *DeliveryWorker) Deliver(ctx context.Context, d domain.Delivery) {
	sink, ok := w.sinks.Sink(d.Target)
	if !ok {
		w.outcome(d, errors.ErrConnectionClosed)
		return
	}
	sinkCtx := ctx
	if w.sinkTimeout > 0 {
		var cancel context.CancelFunc
		sinkCtx, cancel = context.WithTimeout(ctx, w.sinkTimeout)
		defer cancel()
	}
	w.outcome(d, sink.Consume(sinkCtx, toEvent(d)))
}

func (w *DeliveryWorker) outcome(d domain.Delivery, err error) {
	id, target := d.Message.ID, d.Target
	if d.Kind == domain.Echo {
		if err != nil {
			w.log.Debug("Echo not delivered", "message_id", id, "connection_id", target, "error", err)
		}
		return
	}
	switch {
	case err == nil:
		w.tracker.Attempted(id, target)
	case errors.Is(err, errors.ErrConnectionClosed):
		w.tracker.TargetGone(id, target)
	default:
		w.tracker.TargetFailed(id, target, fmt.Errorf("%w: %w", errors.ErrTransport, err))
	}
}

func toEvent(d domain.Delivery) event.DomainEvent {
	msg := d.Message
	if d.Kind == domain.Echo {
		return event.MessageEcho{
			MessageID:  msg.ID,
			Seq:        msg.Seq,
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
			Payload:    msg.Payload,
			At:         msg.CreatedAt,
		}
	}
	return event.MessageReceived{
		MessageID:  msg.ID,
		Seq:        msg.Seq,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Payload:    msg.Payload,
		At:         msg.CreatedAt,
		Attempt:    d.Attempt,
	}
}
