// Package runtime holds the relay core: connection registry, presence, router and delivery ledger.
// The Orchestrator wires them together and runs the workers that move deliveries and events.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/runtime/workers"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Config struct {
	NumWorkers  int
	BufferSize  int
	SinkTimeout time.Duration
	LockStripes int
	Router      RouterConfig
	Ledger      LedgerConfig
}

// Orchestrator is the relay façade driven by sessions and queried by the admin surfaces.
type Orchestrator struct {
	mu             sync.Mutex
	log            *slog.Logger
	clock          clock.Clock
	cfg            Config
	supervisor     contract.ISupervisor
	directory      contract.UserDirectory
	registry       *Registry
	presence       *PresenceTracker
	ledger         *Ledger
	router         *Router
	deliveries     workers.DeliveryQueue
	events         chan event.DomainEvent
	permanentSinks []contract.EventSink
}

func NewOrchestrator(
	log *slog.Logger,
	clk clock.Clock,
	supervisor contract.ISupervisor,
	directory contract.UserDirectory,
	cfg Config,
) (*Orchestrator, error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = time.Second
	}
	o := &Orchestrator{
		log:        log,
		clock:      clk,
		cfg:        cfg,
		supervisor: supervisor,
		directory:  directory,
		deliveries: make(workers.DeliveryQueue, cfg.BufferSize),
		events:     make(chan event.DomainEvent, cfg.BufferSize),
	}
	o.presence = NewPresenceTracker(clk, cfg.LockStripes)
	o.registry = NewRegistry(clk, o.presence, cfg.LockStripes)
	o.ledger = NewLedger(log, clk, cfg.Ledger, o.registry, o.deliveries, func(status event.DeliveryStatus) {
		o.publish(status)
	}, cfg.LockStripes)
	router, err := NewRouter(log, clk, cfg.Router, o.registry, o.ledger, o.deliveries, directory, o.publish)
	if err != nil {
		return nil, err
	}
	o.router = router
	o.presence.OnPresenceChange(func(evt event.PresenceChanged) {
		o.ledger.OnPresenceChanged(evt)
		o.publish(evt)
	})
	return o, nil
}

// Add registers permanent sinks, they receive every published event.
func (o *Orchestrator) Add(sinks ...contract.EventSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.permanentSinks = append(o.permanentSinks, sinks...)
}

// Start registers the delivery workers and the fanout, then blocks running the supervisor.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	fanout := workers.NewEventFanout(o.log, o.events, o.registry, o.cfg.SinkTimeout).
		Add(o.permanentSinks...)
	o.supervisor.Add(fanout)
	for i := 0; i < o.cfg.NumWorkers; i++ {
		o.supervisor.Add(workers.NewDeliveryWorker(o.log, o.deliveries, o.registry, o.ledger, o.cfg.SinkTimeout))
	}
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers", "delivery_workers", o.cfg.NumWorkers)
	o.supervisor.Run(ctx)
	return nil
}

// Stop cancels the supervised workers.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}

// Register makes an authenticated connection live. The identity is remembered in
// the user directory on a best-effort basis.
func (o *Orchestrator) Register(ctx context.Context, userID domain.UserID, connID domain.ConnectionID, sink contract.EventSink) error {
	if err := o.registry.Register(userID, connID, sink); err != nil {
		return err
	}
	if o.directory != nil {
		if err := o.directory.Remember(ctx, userID); err != nil {
			o.log.Warn("Unable to remember user", "user_id", userID, "error", err)
		}
	}
	o.publish(event.ConnectionChanged{ConnectionID: connID, UserID: userID, Open: true, At: o.clock.Now().UTC()})
	return nil
}

func (o *Orchestrator) Unregister(connID domain.ConnectionID) {
	userID, ok := o.registry.OwnerOf(connID)
	if !ok || !o.registry.Unregister(connID) {
		return
	}
	o.publish(event.ConnectionChanged{ConnectionID: connID, UserID: userID, Open: false, At: o.clock.Now().UTC()})
}

func (o *Orchestrator) Send(ctx context.Context, req domain.SendRequest) (domain.Receipt, error) {
	return o.router.Send(ctx, req)
}

// Ack marks the message delivered on behalf of connID.
func (o *Orchestrator) Ack(messageID domain.MessageID, connID domain.ConnectionID) {
	o.ledger.MarkDelivered(messageID, connID)
}

func (o *Orchestrator) Touch(connID domain.ConnectionID) {
	o.registry.Touch(connID)
}

func (o *Orchestrator) IsOnline(userID domain.UserID) bool {
	return o.presence.IsOnline(userID)
}

func (o *Orchestrator) OnlineUsers() []domain.UserID {
	return o.presence.OnlineUsers()
}

func (o *Orchestrator) ConnectionsFor(userID domain.UserID) []domain.Connection {
	var conns []domain.Connection
	for _, id := range o.registry.ConnectionsFor(userID) {
		if conn, ok := o.registry.Connection(id); ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

func (o *Orchestrator) Status(messageID domain.MessageID) (domain.MessageStatus, bool) {
	return o.ledger.Status(messageID)
}

// Queues exposes the internal queues for capacity sampling.
func (o *Orchestrator) Queues() []workers.NamedChannel {
	return []workers.NamedChannel{
		{Name: "deliveries", Channel: o.deliveries},
		{Name: "events", Channel: o.events},
	}
}

func (o *Orchestrator) Backlog(userID domain.UserID) []domain.MessageID {
	return o.ledger.Backlog(userID)
}

// publish never blocks the caller, events are dropped when the fanout lags.
func (o *Orchestrator) publish(evt event.DomainEvent) {
	select {
	case o.events <- evt:
	default:
		o.log.Warn("Event channel full, dropping event", "event", evt.EventName())
	}
}
