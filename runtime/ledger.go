package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ConnectionLookup is what the ledger needs from the registry.
type ConnectionLookup interface {
	ConnectionsFor(userID domain.UserID) []domain.ConnectionID
	OwnerOf(connID domain.ConnectionID) (domain.UserID, bool)
}

type LedgerConfig struct {
	MaxBacklogPerUser int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	// AckTimeout turns a silent target into a transient failure, zero disables it.
	AckTimeout time.Duration
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		MaxBacklogPerUser: 100,
		MaxRetries:        5,
		RetryBaseDelay:    200 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,
	}
}

// target is one connection a pending message was handed to.
// gen invalidates timers that fired after being replaced.
type target struct {
	failures int
	gen      uint64
	timer    *clock.Timer
}

type ledgerEntry struct {
	mu          sync.Mutex
	msg         domain.Message
	reason      domain.FailureReason
	deliveredTo domain.ConnectionID
	targets     map[domain.ConnectionID]*target
}

type entryShard struct {
	mu      sync.RWMutex
	entries map[domain.MessageID]*ledgerEntry
}

type backlogShard struct {
	mu     sync.Mutex
	queues map[domain.UserID][]domain.MessageID
}

// Ledger owns the delivery state of every message.
//
// Each message is guarded by its own mutex, each recipient backlog by a shard mutex.
// A backlog lock and an entry lock are never held together.
type Ledger struct {
	log        *slog.Logger
	clock      clock.Clock
	cfg        LedgerConfig
	conns      ConnectionLookup
	dispatcher contract.Dispatcher
	onTerminal func(event.DeliveryStatus)
	entries    []*entryShard
	backlogs   []*backlogShard
}

func NewLedger(
	log *slog.Logger,
	clk clock.Clock,
	cfg LedgerConfig,
	conns ConnectionLookup,
	dispatcher contract.Dispatcher,
	onTerminal func(event.DeliveryStatus),
	shards int,
) *Ledger {
	if shards <= 0 {
		shards = defaultStripes
	}
	if onTerminal == nil {
		onTerminal = func(event.DeliveryStatus) {}
	}
	l := &Ledger{
		log:        log,
		clock:      clk,
		cfg:        cfg,
		conns:      conns,
		dispatcher: dispatcher,
		onTerminal: onTerminal,
		entries:    make([]*entryShard, shards),
		backlogs:   make([]*backlogShard, shards),
	}
	for i := 0; i < shards; i++ {
		l.entries[i] = &entryShard{entries: make(map[domain.MessageID]*ledgerEntry)}
		l.backlogs[i] = &backlogShard{queues: make(map[domain.UserID][]domain.MessageID)}
	}
	return l
}

// MarkPending records msg as Pending. Known messages are left untouched.
func (l *Ledger) MarkPending(msg domain.Message) {
	s := l.entryShard(msg.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[msg.ID]; ok {
		l.log.Debug("Message already tracked", "message_id", msg.ID)
		return
	}
	msg.State = domain.Pending
	s.entries[msg.ID] = &ledgerEntry{msg: msg, targets: make(map[domain.ConnectionID]*target)}
}

// MarkDelivered completes a message on the first acknowledgement of any of its targets,
// or of any live connection of the receiver. Returns false when the transition was ignored.
func (l *Ledger) MarkDelivered(id domain.MessageID, connID domain.ConnectionID) bool {
	e, ok := l.entry(id)
	if !ok {
		l.log.Debug("Ack for unknown message", "message_id", id, "connection_id", connID)
		return false
	}
	e.mu.Lock()
	if e.msg.State.Terminal() {
		e.mu.Unlock()
		l.log.Debug("Ignoring delivered on terminal message", "message_id", id, "state", e.msg.State)
		return false
	}
	if _, targeted := e.targets[connID]; !targeted {
		owner, known := l.conns.OwnerOf(connID)
		if !known || owner != e.msg.ReceiverID {
			e.mu.Unlock()
			l.log.Debug("Ack from a connection that is not a recipient", "message_id", id, "connection_id", connID)
			return false
		}
	}
	e.deliveredTo = connID
	status := e.terminate(domain.Delivered, domain.ReasonNone, l.clock.Now().UTC())
	e.mu.Unlock()

	l.dequeue(status.ReceiverID, id)
	l.onTerminal(status)
	return true
}

// MarkFailed fails a pending message. Returns false when the transition was ignored.
func (l *Ledger) MarkFailed(id domain.MessageID, reason domain.FailureReason) bool {
	e, ok := l.entry(id)
	if !ok {
		l.log.Debug("Failure for unknown message", "message_id", id, "reason", reason)
		return false
	}
	e.mu.Lock()
	if e.msg.State.Terminal() {
		e.mu.Unlock()
		l.log.Debug("Ignoring failure on terminal message", "message_id", id, "state", e.msg.State, "reason", reason)
		return false
	}
	status := e.terminate(domain.Failed, reason, l.clock.Now().UTC())
	e.mu.Unlock()

	l.dequeue(status.ReceiverID, id)
	l.onTerminal(status)
	return true
}

// Deliver hands a pending message to every connection of conns it is not already targeting.
func (l *Ledger) Deliver(id domain.MessageID, conns []domain.ConnectionID) {
	msg, added := l.await(id, conns)
	for _, connID := range added {
		l.dispatch(msg, connID, 1)
	}
}

// Attempted records that the message was handed to the connection and arms the ack timeout.
func (l *Ledger) Attempted(id domain.MessageID, connID domain.ConnectionID) {
	if l.cfg.AckTimeout <= 0 {
		return
	}
	e, ok := l.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.targets[connID]
	if e.msg.State.Terminal() || !ok {
		return
	}
	t.stop()
	t.gen++
	gen := t.gen
	t.timer = l.clock.AfterFunc(l.cfg.AckTimeout, func() {
		l.failTarget(id, connID, errors.ErrAckTimeout, gen)
	})
}

// TargetFailed records a transient failure of one target and schedules its retry.
// Once a target exceeds MaxRetries it is dropped; when no target is left the message
// fails with DeliveryExhausted.
func (l *Ledger) TargetFailed(id domain.MessageID, connID domain.ConnectionID, cause error) {
	l.failTarget(id, connID, cause, 0)
}

// TargetGone drops a target whose connection disappeared. A message left without
// targets goes back to the recipient backlog.
func (l *Ledger) TargetGone(id domain.MessageID, connID domain.ConnectionID) {
	e, ok := l.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	t, ok := e.targets[connID]
	if e.msg.State.Terminal() || !ok {
		e.mu.Unlock()
		return
	}
	t.stop()
	delete(e.targets, connID)
	remaining := len(e.targets)
	e.mu.Unlock()

	l.log.Debug("Delivery target gone", "message_id", id, "connection_id", connID, "remaining", remaining)
	if remaining == 0 {
		l.Hold(id)
	}
}

// Hold puts a pending message in its recipient backlog, evicting the oldest
// entries beyond MaxBacklogPerUser as Failed(BacklogOverflow).
func (l *Ledger) Hold(id domain.MessageID) {
	e, ok := l.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	if e.msg.State.Terminal() {
		e.mu.Unlock()
		return
	}
	receiver := e.msg.ReceiverID
	e.mu.Unlock()

	l.enqueue(receiver, []domain.MessageID{id})
	// The recipient may have connected while the message was on its way here.
	if len(l.conns.ConnectionsFor(receiver)) > 0 {
		l.Flush(receiver)
	}
}

// Flush delivers the backlog of userID to its live connections, oldest first.
func (l *Ledger) Flush(userID domain.UserID) {
	for {
		ids := l.drain(userID)
		if len(ids) == 0 {
			return
		}
		conns := l.conns.ConnectionsFor(userID)
		if len(conns) > 0 {
			for _, id := range ids {
				l.Deliver(id, conns)
			}
			return
		}
		l.enqueue(userID, ids)
		// A presence flush may have found the backlog empty while it was drained.
		if len(l.conns.ConnectionsFor(userID)) == 0 {
			return
		}
	}
}

// OnPresenceChanged flushes the backlog of a user coming online.
func (l *Ledger) OnPresenceChanged(evt event.PresenceChanged) {
	if evt.Online {
		l.Flush(evt.UserID)
	}
}

func (l *Ledger) Status(id domain.MessageID) (domain.MessageStatus, bool) {
	e, ok := l.entry(id)
	if !ok {
		return domain.MessageStatus{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	msg := e.msg
	msg.Payload = slices.Clone(e.msg.Payload)
	return domain.MessageStatus{
		Message:     msg,
		Reason:      e.reason,
		DeliveredTo: e.deliveredTo,
		Targets:     len(e.targets),
	}, true
}

// Backlog returns the held message ids of userID, oldest first.
func (l *Ledger) Backlog(userID domain.UserID) []domain.MessageID {
	s := l.backlogShard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queues[userID])
}

func (l *Ledger) await(id domain.MessageID, conns []domain.ConnectionID) (domain.Message, []domain.ConnectionID) {
	e, ok := l.entry(id)
	if !ok {
		return domain.Message{}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.msg.State.Terminal() {
		return e.msg, nil
	}
	var added []domain.ConnectionID
	for _, connID := range conns {
		if _, ok := e.targets[connID]; ok {
			continue
		}
		e.targets[connID] = &target{}
		added = append(added, connID)
	}
	return e.msg, added
}

func (l *Ledger) dispatch(msg domain.Message, connID domain.ConnectionID, attempt int) {
	delivery := domain.Delivery{Message: msg, Target: connID, Kind: domain.Inbound, Attempt: attempt}
	if !l.dispatcher.Dispatch(delivery) {
		l.log.Warn("Delivery queue full", "message_id", msg.ID, "connection_id", connID)
		l.TargetFailed(msg.ID, connID, errors.ErrQueueFull)
	}
}

// failTarget handles TargetFailed and ack timeouts. A non-zero gen must match the
// target generation, otherwise the timer that called it was replaced.
func (l *Ledger) failTarget(id domain.MessageID, connID domain.ConnectionID, cause error, gen uint64) {
	e, ok := l.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	t, ok := e.targets[connID]
	if e.msg.State.Terminal() || !ok || (gen != 0 && gen != t.gen) {
		e.mu.Unlock()
		return
	}
	t.stop()
	t.failures++
	l.log.Debug("Delivery attempt failed", "message_id", id, "connection_id", connID, "failures", t.failures, "error", cause)

	if t.failures > l.cfg.MaxRetries {
		delete(e.targets, connID)
		if len(e.targets) > 0 {
			e.mu.Unlock()
			return
		}
		status := e.terminate(domain.Failed, domain.ReasonDeliveryExhausted, l.clock.Now().UTC())
		e.mu.Unlock()
		l.log.Warn("Delivery exhausted", "message_id", id, "receiver_id", status.ReceiverID)
		l.onTerminal(status)
		return
	}

	t.gen++
	next := t.gen
	attempt := t.failures + 1
	t.timer = l.clock.AfterFunc(l.backoff(t.failures), func() {
		l.retry(id, connID, next, attempt)
	})
	e.mu.Unlock()
}

func (l *Ledger) retry(id domain.MessageID, connID domain.ConnectionID, gen uint64, attempt int) {
	e, ok := l.entry(id)
	if !ok {
		return
	}
	e.mu.Lock()
	t, ok := e.targets[connID]
	if e.msg.State.Terminal() || !ok || t.gen != gen {
		e.mu.Unlock()
		return
	}
	t.timer = nil
	msg := e.msg
	e.mu.Unlock()

	if owner, ok := l.conns.OwnerOf(connID); !ok || owner != msg.ReceiverID {
		l.TargetGone(id, connID)
		return
	}
	l.dispatch(msg, connID, attempt)
}

// backoff returns RetryBaseDelay doubled for every previous failure, capped by RetryMaxDelay.
func (l *Ledger) backoff(failures int) time.Duration {
	delay := l.cfg.RetryBaseDelay
	for i := 1; i < failures; i++ {
		delay *= 2
		if l.cfg.RetryMaxDelay > 0 && delay >= l.cfg.RetryMaxDelay {
			break
		}
	}
	if l.cfg.RetryMaxDelay > 0 && delay > l.cfg.RetryMaxDelay {
		return l.cfg.RetryMaxDelay
	}
	return delay
}

func (l *Ledger) enqueue(userID domain.UserID, ids []domain.MessageID) {
	s := l.backlogShard(userID)
	s.mu.Lock()
	queue := s.queues[userID]
	for _, id := range ids {
		if idx, found := slices.BinarySearch(queue, id); !found {
			queue = slices.Insert(queue, idx, id)
		}
	}
	var evicted []domain.MessageID
	if over := len(queue) - l.cfg.MaxBacklogPerUser; l.cfg.MaxBacklogPerUser > 0 && over > 0 {
		evicted = slices.Clone(queue[:over])
		queue = slices.Clone(queue[over:])
	}
	s.queues[userID] = queue
	s.mu.Unlock()

	for _, id := range evicted {
		l.log.Warn("Backlog overflow", "message_id", id, "receiver_id", userID)
		l.MarkFailed(id, domain.ReasonBacklogOverflow)
	}
}

func (l *Ledger) drain(userID domain.UserID) []domain.MessageID {
	s := l.backlogShard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.queues[userID]
	delete(s.queues, userID)
	return ids
}

func (l *Ledger) dequeue(userID domain.UserID, id domain.MessageID) {
	s := l.backlogShard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.queues[userID]
	idx, found := slices.BinarySearch(queue, id)
	if !found {
		return
	}
	queue = slices.Delete(queue, idx, idx+1)
	if len(queue) == 0 {
		delete(s.queues, userID)
		return
	}
	s.queues[userID] = queue
}

func (l *Ledger) entry(id domain.MessageID) (*ledgerEntry, bool) {
	s := l.entryShard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (l *Ledger) entryShard(id domain.MessageID) *entryShard {
	return l.entries[uint64(id)%uint64(len(l.entries))]
}

func (l *Ledger) backlogShard(userID domain.UserID) *backlogShard {
	return l.backlogs[stripeIndex(string(userID), len(l.backlogs))]
}

// terminate moves the entry to a terminal state and releases its targets. Caller holds e.mu.
func (e *ledgerEntry) terminate(state domain.DeliveryState, reason domain.FailureReason, at time.Time) event.DeliveryStatus {
	e.msg.State = state
	e.reason = reason
	for connID, t := range e.targets {
		t.stop()
		delete(e.targets, connID)
	}
	return event.DeliveryStatus{
		MessageID:   e.msg.ID,
		SenderID:    e.msg.SenderID,
		ReceiverID:  e.msg.ReceiverID,
		State:       state,
		Reason:      reason,
		DeliveredTo: e.deliveredTo,
		At:          at,
	}
}

func (t *target) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
