package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	ErrDuplicateConnection = fmt.Errorf("connection already registered to another user")
	ErrUnauthenticated     = fmt.Errorf("sender has no live connection")
	ErrPayloadTooLarge     = fmt.Errorf("payload exceeds the maximum size")
	ErrBacklogOverflow     = fmt.Errorf("recipient backlog overflow")
	ErrDeliveryExhausted   = fmt.Errorf("delivery retries exhausted")
	ErrHandshakeTimeout    = fmt.Errorf("authentication handshake timed out")
	ErrTransport           = fmt.Errorf("transport error")

	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrAckTimeout       = fmt.Errorf("acknowledgement timed out")
	ErrQueueFull        = fmt.Errorf("delivery queue full")
	ErrInvalidToken     = fmt.Errorf("invalid or expired token")
	ErrInvalidFrame     = fmt.Errorf("invalid frame")
	ErrAlreadyActive    = fmt.Errorf("connection already authenticated")
	ErrUnknownEvent     = fmt.Errorf("unknown event")
	ErrUnknownMessage   = fmt.Errorf("unknown message")
	ErrInvalidConfig    = fmt.Errorf("invalid configuration")
)

// errorCodes are the stable identifiers sent to clients in error frames.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrDuplicateConnection, "DuplicateConnection"},
	{ErrUnauthenticated, "Unauthenticated"},
	{ErrInvalidToken, "Unauthenticated"},
	{ErrPayloadTooLarge, "PayloadTooLarge"},
	{ErrBacklogOverflow, "BacklogOverflow"},
	{ErrDeliveryExhausted, "DeliveryExhausted"},
	{ErrHandshakeTimeout, "HandshakeTimeout"},
	{ErrTransport, "TransportError"},
	{ErrInvalidFrame, "InvalidFrame"},
	{ErrAlreadyActive, "AlreadyAuthenticated"},
	{ErrUnknownEvent, "UnknownEvent"},
	{ErrUnknownMessage, "UnknownMessage"},
}

// Code returns the client facing code of err, "Internal" when err is not part of the taxonomy.
func Code(err error) string {
	for _, c := range errorCodes {
		if stderrors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// FromCode is the inverse of Code for clients reading error frames.
func FromCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return fmt.Errorf("relay error %s", code)
}
