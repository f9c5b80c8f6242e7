package runtime_test

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// RecordingSink keeps events and, when relay is set, acknowledges received messages.
type RecordingSink struct {
	mu     sync.Mutex
	connID domain.ConnectionID
	relay  contract.Relay
	events []event.DomainEvent
}

func (s *RecordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	if received, ok := e.(event.MessageReceived); ok && s.relay != nil {
		s.relay.Ack(received.MessageID, s.connID)
	}
	return nil
}

func (s *RecordingSink) has(match func(event.DomainEvent) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if match(e) {
			return true
		}
	}
	return false
}

func startOrchestrator(t *testing.T, cfg runtime.Config, directory contract.UserDirectory) *runtime.Orchestrator {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	orchestrator, err := runtime.NewOrchestrator(log, clock.New(), workers.NewSupervisor(log, 10*time.Millisecond), directory, cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orchestrator.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return orchestrator
}

func defaultConfig() runtime.Config {
	return runtime.Config{
		NumWorkers:  2,
		BufferSize:  64,
		SinkTimeout: time.Second,
		Router:      runtime.RouterConfig{MaxPayloadBytes: runtime.DefaultMaxPayloadBytes, DedupCacheSize: 64},
		Ledger:      runtime.DefaultLedgerConfig(),
	}
}

func TestOrchestrator_Offline_Recipient_Delivered_On_Connect(t *testing.T) {
	req := require.New(t)
	orchestrator := startOrchestrator(t, defaultConfig(), nil)
	ctx := context.Background()
	aliceSink := &RecordingSink{connID: "a1"}
	req.NoError(orchestrator.Register(ctx, "alice", "a1", aliceSink))

	// Given bob has no connection, alice sends "hi"
	receipt, err := orchestrator.Send(ctx, domain.SendRequest{SenderID: "alice", ReceiverID: "bob", Payload: []byte("hi"), Origin: "a1"})
	req.NoError(err)
	req.Equal(domain.MessageID(1), receipt.MessageID)
	status, ok := orchestrator.Status(1)
	req.True(ok)
	req.Equal(domain.Pending, status.Message.State)
	req.False(orchestrator.IsOnline("bob"))

	// When bob connects and his client acknowledges
	bobSink := &RecordingSink{connID: "b1", relay: orchestrator}
	req.NoError(orchestrator.Register(ctx, "bob", "b1", bobSink))
	req.True(orchestrator.IsOnline("bob"))

	// Then the message is delivered without resubmission
	req.Eventually(func() bool {
		status, _ := orchestrator.Status(1)
		return status.Message.State == domain.Delivered
	}, 2*time.Second, 5*time.Millisecond)
	req.True(bobSink.has(func(e event.DomainEvent) bool {
		received, ok := e.(event.MessageReceived)
		return ok && string(received.Payload) == "hi" && received.SenderID == "alice"
	}))

	// And alice hears about bob and about the delivery
	req.Eventually(func() bool {
		return aliceSink.has(func(e event.DomainEvent) bool {
			presence, ok := e.(event.PresenceChanged)
			return ok && presence.UserID == "bob" && presence.Online
		}) && aliceSink.has(func(e event.DomainEvent) bool {
			delivery, ok := e.(event.DeliveryStatus)
			return ok && delivery.MessageID == 1 && delivery.State == domain.Delivered
		})
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOrchestrator_Presence_Not_Visible_Before_Register(t *testing.T) {
	req := require.New(t)
	orchestrator := startOrchestrator(t, defaultConfig(), nil)
	observer := &RecordingSink{}
	orchestrator.Add(observer)

	req.False(orchestrator.IsOnline("bob"))
	req.Empty(orchestrator.ConnectionsFor("bob"))

	req.NoError(orchestrator.Register(context.Background(), "bob", "b1", &RecordingSink{}))

	req.True(orchestrator.IsOnline("bob"))
	req.Len(orchestrator.ConnectionsFor("bob"), 1)
	req.Equal([]domain.UserID{"bob"}, orchestrator.OnlineUsers())

	// When bob leaves, the duplicate disconnect is harmless
	orchestrator.Unregister("b1")
	orchestrator.Unregister("b1")
	req.False(orchestrator.IsOnline("bob"))
}

func TestOrchestrator_Register_Remembers_User(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	directory := mocks.NewMockUserDirectory(ctrl)
	orchestrator := startOrchestrator(t, defaultConfig(), directory)

	directory.EXPECT().Remember(gomock.Any(), domain.UserID("alice")).Return(nil).Times(1)

	req.NoError(orchestrator.Register(context.Background(), "alice", "a1", &RecordingSink{}))

	// Then a second user cannot claim the same connection
	err := orchestrator.Register(context.Background(), "bob", "a1", &RecordingSink{})
	req.ErrorIs(err, errors.ErrDuplicateConnection)
}

func TestOrchestrator_Backlog_Overflow(t *testing.T) {
	req := require.New(t)
	cfg := defaultConfig()
	cfg.Ledger.MaxBacklogPerUser = 2
	orchestrator := startOrchestrator(t, cfg, nil)
	ctx := context.Background()
	req.NoError(orchestrator.Register(ctx, "alice", "a1", &RecordingSink{}))

	// When 3 messages are sent to a permanently offline user
	for i := 0; i < 3; i++ {
		_, err := orchestrator.Send(ctx, domain.SendRequest{SenderID: "alice", ReceiverID: "bob", Payload: []byte("hi")})
		req.NoError(err)
	}

	// Then the oldest failed and the newest two are pending
	first, _ := orchestrator.Status(1)
	req.Equal(domain.Failed, first.Message.State)
	req.Equal(domain.ReasonBacklogOverflow, first.Reason)
	for _, id := range []domain.MessageID{2, 3} {
		status, _ := orchestrator.Status(id)
		req.Equal(domain.Pending, status.Message.State)
	}
	req.Equal([]domain.MessageID{2, 3}, orchestrator.Backlog("bob"))
}

func TestOrchestrator_Queues_Are_Sampled(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	orchestrator, err := runtime.NewOrchestrator(log, clock.New(), workers.NewSupervisor(log, 0), nil, defaultConfig())
	req.NoError(err)

	samples := workers.NewChannelCapacityWorker(log, clock.NewMock(), orchestrator.Queues(), nil, time.Second).Sample()

	req.Len(samples, 2)
	req.Equal("deliveries", samples[0].Name)
	req.Equal(64, samples[0].Capacity)
	req.Equal("events", samples[1].Name)
}
