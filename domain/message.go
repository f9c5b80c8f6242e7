// Package domain contains core concepts of the relay.
// This file defines Message records and their delivery rules.
package domain

import "time"

type DeliveryState int

const (
	Pending DeliveryState = iota
	Delivered
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Delivered:
		return "Delivered"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s DeliveryState) Terminal() bool {
	return s == Delivered || s == Failed
}

type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonBacklogOverflow   FailureReason = "BacklogOverflow"
	ReasonDeliveryExhausted FailureReason = "DeliveryExhausted"
)

// Message is a one-to-one chat message.
// Seq is the sender-local sequence number: strictly increasing per sender,
// receivers use it to detect gaps and reordering.
type Message struct {
	ID         MessageID
	Seq        uint64
	SenderID   UserID
	ReceiverID UserID
	Payload    []byte
	CreatedAt  time.Time
	State      DeliveryState
}

// SendRequest is a send intent coming from one of the sender's connections.
// Origin is excluded from the sender echo; ClientMsgID makes resubmissions idempotent.
type SendRequest struct {
	SenderID    UserID
	ReceiverID  UserID
	Payload     []byte
	Origin      ConnectionID
	ClientMsgID string
}

// Receipt is returned as soon as a message id is allocated.
type Receipt struct {
	MessageID MessageID
	Seq       uint64
	Duplicate bool
}

type DeliveryKind int

const (
	// Inbound targets a receiver connection and is tracked by the ledger.
	Inbound DeliveryKind = iota
	// Echo mirrors an outgoing message to the sender's other connections, untracked.
	Echo
)

// Delivery is one attempt to push a message to one connection.
type Delivery struct {
	Message Message
	Target  ConnectionID
	Kind    DeliveryKind
	Attempt int
}

// MessageStatus is a point-in-time view of a message as the ledger sees it.
type MessageStatus struct {
	Message     Message
	Reason      FailureReason
	DeliveredTo ConnectionID
	Targets     int
}
