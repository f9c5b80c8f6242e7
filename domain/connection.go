package domain

import "time"

// Connection is one live transport session owned by a user.
type Connection struct {
	ID           ConnectionID
	UserID       UserID
	CreatedAt    time.Time
	LastActivity time.Time
}

// ConnectionState is the lifecycle of a relay session.
// Connecting -> Authenticating -> Active -> Closing -> Closed
type ConnectionState int32

const (
	Connecting ConnectionState = iota
	Authenticating
	Active
	Closing
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Authenticating:
		return "Authenticating"
	case Active:
		return "Active"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// AckMode decides what counts as receipt for a delivered message.
type AckMode string

const (
	// AckModeClient waits for an explicit ack frame from the receiving connection.
	AckModeClient AckMode = "client"
	// AckModeTransport treats a successful transport write as receipt.
	AckModeTransport AckMode = "transport"
)
