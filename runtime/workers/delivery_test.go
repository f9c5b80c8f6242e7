package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type sinkMap map[domain.ConnectionID]contract.EventSink

func (m sinkMap) Sink(connID domain.ConnectionID) (contract.EventSink, bool) {
	s, ok := m[connID]
	return s, ok
}

type outcome struct {
	kind   string
	connID domain.ConnectionID
	cause  error
}

type recordingTracker struct {
	mu       sync.Mutex
	outcomes []outcome
}

func (r *recordingTracker) Attempted(_ domain.MessageID, connID domain.ConnectionID) {
	r.add(outcome{kind: "attempted", connID: connID})
}

func (r *recordingTracker) TargetFailed(_ domain.MessageID, connID domain.ConnectionID, cause error) {
	r.add(outcome{kind: "failed", connID: connID, cause: cause})
}

func (r *recordingTracker) TargetGone(_ domain.MessageID, connID domain.ConnectionID) {
	r.add(outcome{kind: "gone", connID: connID})
}

func (r *recordingTracker) add(o outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func inbound(target domain.ConnectionID) domain.Delivery {
	return domain.Delivery{
		Message: domain.Message{ID: 7, Seq: 1, SenderID: "alice", ReceiverID: "bob", Payload: []byte("hi")},
		Target:  target,
		Kind:    domain.Inbound,
		Attempt: 2,
	}
}

func TestDeliveryQueue_Dispatch_Never_Blocks(t *testing.T) {
	req := require.New(t)
	queue := make(DeliveryQueue, 1)

	req.True(queue.Dispatch(inbound("c1")))
	req.False(queue.Dispatch(inbound("c2")))
}

func TestDeliveryWorker_Success_Is_Attempted(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)
	tracker := &recordingTracker{}
	worker := NewDeliveryWorker(log, nil, sinkMap{"b1": sink}, tracker, time.Second)

	// Then the receiver gets the message with its attempt number
	sink.EXPECT().Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, evt event.DomainEvent) error {
			received, ok := evt.(event.MessageReceived)
			req.True(ok)
			req.Equal(domain.MessageID(7), received.MessageID)
			req.Equal(2, received.Attempt)
			req.Equal([]byte("hi"), received.Payload)
			return nil
		}).Times(1)

	worker.Deliver(context.Background(), inbound("b1"))

	req.Equal([]outcome{{kind: "attempted", connID: "b1"}}, tracker.outcomes)
}

func TestDeliveryWorker_Unknown_Connection_Is_Gone(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	tracker := &recordingTracker{}
	worker := NewDeliveryWorker(log, nil, sinkMap{}, tracker, time.Second)

	// When the target unregistered before the attempt
	worker.Deliver(context.Background(), inbound("b1"))

	// Then the target is reported gone
	req.Equal([]outcome{{kind: "gone", connID: "b1"}}, tracker.outcomes)
}

func TestDeliveryWorker_Closed_And_Failed_Sinks(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	closedSink := mocks.NewMockEventSink(ctrl)
	brokenSink := mocks.NewMockEventSink(ctrl)
	tracker := &recordingTracker{}
	worker := NewDeliveryWorker(log, nil, sinkMap{"b1": closedSink, "b2": brokenSink}, tracker, time.Second)

	closedSink.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(errors.ErrConnectionClosed).Times(1)
	brokenSink.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(stderrors.New("broken pipe")).Times(1)

	worker.Deliver(context.Background(), inbound("b1"))
	worker.Deliver(context.Background(), inbound("b2"))

	req.Len(tracker.outcomes, 2)
	req.Equal("gone", tracker.outcomes[0].kind)
	req.Equal("failed", tracker.outcomes[1].kind)
	req.ErrorIs(tracker.outcomes[1].cause, errors.ErrTransport)
}

func TestDeliveryWorker_Echo_Is_Untracked(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)
	tracker := &recordingTracker{}
	worker := NewDeliveryWorker(log, nil, sinkMap{"a2": sink}, tracker, time.Second)
	delivery := inbound("a2")
	delivery.Kind = domain.Echo

	sink.EXPECT().Consume(gomock.Any(), gomock.AssignableToTypeOf(event.MessageEcho{})).
		Return(stderrors.New("gone")).Times(1)

	worker.Deliver(context.Background(), delivery)

	req.Empty(tracker.outcomes)
}

func TestDeliveryWorker_Run_Drains_Queue(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockEventSink(ctrl)
	tracker := &recordingTracker{}
	queue := make(DeliveryQueue, 4)
	worker := NewDeliveryWorker(log, queue, sinkMap{"b1": sink}, tracker, time.Second)

	sink.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	req.True(queue.Dispatch(inbound("b1")))
	req.True(queue.Dispatch(inbound("b1")))
	close(queue)

	// Then Run returns once the closed queue is drained
	req.NoError(worker.Run(context.Background()))
	req.Len(tracker.outcomes, 2)
}
