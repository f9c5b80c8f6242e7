package event

import (
	"chat-relay/domain"
	"time"
)

// DomainEvent is anything the relay publishes to connections or permanent sinks.
type DomainEvent interface {
	EventName() string
}

// MessageReceived is pushed to a receiver connection. Attempt > 1 means a redelivery
// of the same MessageID, which the client is expected to deduplicate.
type MessageReceived struct {
	MessageID  domain.MessageID
	Seq        uint64
	SenderID   domain.UserID
	ReceiverID domain.UserID
	Payload    []byte
	At         time.Time
	Attempt    int
}

func (MessageReceived) EventName() string { return domain.EventReceiveMessage }

// MessageEcho mirrors an outgoing message to the sender's other connections.
type MessageEcho struct {
	MessageID  domain.MessageID
	Seq        uint64
	SenderID   domain.UserID
	ReceiverID domain.UserID
	Payload    []byte
	At         time.Time
}

func (MessageEcho) EventName() string { return domain.EventEchoMessage }

type PresenceChanged struct {
	UserID domain.UserID
	Online bool
	At     time.Time
}

func (PresenceChanged) EventName() string { return domain.EventPresenceChanged }

// DeliveryStatus is emitted once, when a message reaches a terminal state.
type DeliveryStatus struct {
	MessageID   domain.MessageID
	SenderID    domain.UserID
	ReceiverID  domain.UserID
	State       domain.DeliveryState
	Reason      domain.FailureReason
	DeliveredTo domain.ConnectionID
	At          time.Time
}

func (DeliveryStatus) EventName() string { return domain.EventDeliveryStatus }

// MessageAccepted is published when the router allocates a new message.
type MessageAccepted struct {
	MessageID  domain.MessageID
	SenderID   domain.UserID
	ReceiverID domain.UserID
	Size       int
	At         time.Time
}

func (MessageAccepted) EventName() string { return "messageAccepted" }

// ConnectionChanged tracks registry mutations for observability.
type ConnectionChanged struct {
	ConnectionID domain.ConnectionID
	UserID       domain.UserID
	Open         bool
	At           time.Time
}

func (ConnectionChanged) EventName() string { return "connectionChanged" }

// ProcessHealth is a periodic sample of the relay process.
type ProcessHealth struct {
	CPUPercent float64
	RSSBytes   uint64
	Goroutines int
	At         time.Time
}

func (ProcessHealth) EventName() string { return "processHealth" }

// QueueDepth is a periodic sample of an internal queue.
type QueueDepth struct {
	Name     string
	Capacity int
	Length   int
	At       time.Time
}

func (QueueDepth) EventName() string { return "queueDepth" }
