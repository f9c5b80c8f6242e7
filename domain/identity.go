// Package domain contains core concepts of the relay.
// No runtime, network, or storage logic should be added here.
package domain

import "strconv"

// UserID is the opaque identity assigned by the external auth system.
type UserID string

// ConnectionID identifies one live transport session, unique per process.
type ConnectionID string

// MessageID is globally unique within a relay process and increases with allocation order.
type MessageID uint64

func (id MessageID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
