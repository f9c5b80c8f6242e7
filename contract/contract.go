//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives relay events. A live connection is a sink, so are permanent
// observers such as metrics. Consume must honour ctx and never block past it.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Dispatcher hands a delivery attempt to the delivery workers without blocking.
// It returns false when the attempt could not be queued.
type Dispatcher interface {
	Dispatch(d domain.Delivery) bool
}

// Transport is one bidirectional client connection, whatever the wire binding.
type Transport interface {
	ReadFrame(ctx context.Context) (domain.Frame, error)
	WriteFrame(ctx context.Context, f domain.Frame) error
	Close() error
	RemoteAddr() string
}

// IdentityProvider turns a credential token into a verified identity.
type IdentityProvider interface {
	Verify(ctx context.Context, token string) (domain.UserID, error)
}

// UserDirectory is the read-mostly listing of known identities.
type UserDirectory interface {
	Exists(ctx context.Context, userID domain.UserID) (bool, error)
	Remember(ctx context.Context, userID domain.UserID) error
	List(ctx context.Context) ([]domain.User, error)
}

// Relay is the façade a session drives once its transport is up.
type Relay interface {
	Register(ctx context.Context, userID domain.UserID, connID domain.ConnectionID, sink EventSink) error
	Unregister(connID domain.ConnectionID)
	Send(ctx context.Context, req domain.SendRequest) (domain.Receipt, error)
	Ack(messageID domain.MessageID, connID domain.ConnectionID)
	Touch(connID domain.ConnectionID)
}
