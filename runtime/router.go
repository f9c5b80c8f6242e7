package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMaxPayloadBytes = 64 * 1024

type RouterConfig struct {
	MaxPayloadBytes int
	// DedupCacheSize bounds the remembered clientMsgIds, zero disables deduplication.
	DedupCacheSize int
}

// senderState serializes allocation for one sender.
type senderState struct {
	mu  sync.Mutex
	seq uint64
}

// Router accepts send requests and hands them to the ledger and the delivery queue.
type Router struct {
	log        *slog.Logger
	clock      clock.Clock
	cfg        RouterConfig
	registry   *Registry
	ledger     *Ledger
	dispatcher contract.Dispatcher
	directory  contract.UserDirectory
	publish    func(event.DomainEvent)
	nextID     atomic.Uint64
	senders    sync.Map
	dedup      *lru.Cache[string, domain.Receipt]
}

func NewRouter(
	log *slog.Logger,
	clk clock.Clock,
	cfg RouterConfig,
	registry *Registry,
	ledger *Ledger,
	dispatcher contract.Dispatcher,
	directory contract.UserDirectory,
	publish func(event.DomainEvent),
) (*Router, error) {
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if publish == nil {
		publish = func(event.DomainEvent) {}
	}
	r := &Router{
		log:        log,
		clock:      clk,
		cfg:        cfg,
		registry:   registry,
		ledger:     ledger,
		dispatcher: dispatcher,
		directory:  directory,
		publish:    publish,
	}
	if cfg.DedupCacheSize > 0 {
		cache, err := lru.New[string, domain.Receipt](cfg.DedupCacheSize)
		if err != nil {
			return nil, err
		}
		r.dedup = cache
	}
	return r, nil
}

// Send allocates a Pending message and returns as soon as its id exists.
// Delivery to the receiver and the echo to the sender's other connections are asynchronous.
func (r *Router) Send(ctx context.Context, req domain.SendRequest) (domain.Receipt, error) {
	if len(req.Payload) > r.cfg.MaxPayloadBytes {
		return domain.Receipt{}, fmt.Errorf("%w: %d > %d bytes", errors.ErrPayloadTooLarge, len(req.Payload), r.cfg.MaxPayloadBytes)
	}
	if len(r.registry.ConnectionsFor(req.SenderID)) == 0 {
		return domain.Receipt{}, fmt.Errorf("%w: %s", errors.ErrUnauthenticated, req.SenderID)
	}
	if req.Origin != "" {
		if owner, ok := r.registry.OwnerOf(req.Origin); !ok || owner != req.SenderID {
			return domain.Receipt{}, fmt.Errorf("%w: connection %s does not belong to %s", errors.ErrUnauthenticated, req.Origin, req.SenderID)
		}
	}
	r.checkRecipient(ctx, req.ReceiverID)

	msg, receipt := r.allocate(req)
	if receipt.Duplicate {
		r.log.Debug("Duplicate send", "sender_id", req.SenderID, "client_msg_id", req.ClientMsgID, "message_id", receipt.MessageID)
		return receipt, nil
	}

	r.publish(event.MessageAccepted{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Size:       len(msg.Payload),
		At:         msg.CreatedAt,
	})

	if targets := r.registry.ConnectionsFor(msg.ReceiverID); len(targets) > 0 {
		r.ledger.Deliver(msg.ID, targets)
	} else {
		r.ledger.Hold(msg.ID)
	}
	r.echo(msg, req.Origin)
	return receipt, nil
}

// allocate stamps the message id and the sender sequence under the sender lock,
// so that sequence numbers grow in id order for a given sender.
func (r *Router) allocate(req domain.SendRequest) (domain.Message, domain.Receipt) {
	state := r.senderState(req.SenderID)
	state.mu.Lock()
	defer state.mu.Unlock()

	key := dedupKey(req.SenderID, req.ClientMsgID)
	if r.dedup != nil && req.ClientMsgID != "" {
		if receipt, ok := r.dedup.Get(key); ok {
			receipt.Duplicate = true
			return domain.Message{}, receipt
		}
	}

	state.seq++
	msg := domain.Message{
		ID:         domain.MessageID(r.nextID.Add(1)),
		Seq:        state.seq,
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Payload:    slices.Clone(req.Payload),
		CreatedAt:  r.clock.Now().UTC(),
		State:      domain.Pending,
	}
	r.ledger.MarkPending(msg)

	receipt := domain.Receipt{MessageID: msg.ID, Seq: msg.Seq}
	if r.dedup != nil && req.ClientMsgID != "" {
		r.dedup.Add(key, receipt)
	}
	return msg, receipt
}

// echo mirrors msg to the sender's other connections. Self addressed messages
// already reach them as inbound deliveries.
func (r *Router) echo(msg domain.Message, origin domain.ConnectionID) {
	if msg.SenderID == msg.ReceiverID {
		return
	}
	for _, connID := range r.registry.ConnectionsFor(msg.SenderID) {
		if connID == origin {
			continue
		}
		delivery := domain.Delivery{Message: msg, Target: connID, Kind: domain.Echo, Attempt: 1}
		if !r.dispatcher.Dispatch(delivery) {
			r.log.Warn("Echo dropped, delivery queue full", "message_id", msg.ID, "connection_id", connID)
		}
	}
}

// checkRecipient only logs, unknown recipients are still addressable.
func (r *Router) checkRecipient(ctx context.Context, receiverID domain.UserID) {
	if r.directory == nil {
		return
	}
	exists, err := r.directory.Exists(ctx, receiverID)
	if err != nil {
		r.log.Debug("User directory lookup failed", "receiver_id", receiverID, "error", err)
		return
	}
	if !exists {
		r.log.Debug("Recipient unknown to the directory", "receiver_id", receiverID)
	}
}

func (r *Router) senderState(senderID domain.UserID) *senderState {
	if state, ok := r.senders.Load(senderID); ok {
		return state.(*senderState)
	}
	state, _ := r.senders.LoadOrStore(senderID, &senderState{})
	return state.(*senderState)
}

func dedupKey(senderID domain.UserID, clientMsgID string) string {
	return string(senderID) + "\x00" + clientMsgID
}
