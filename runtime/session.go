package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
)

type SessionConfig struct {
	AuthTimeout    time.Duration
	IdleTimeout    time.Duration
	AckMode        domain.AckMode
	OutboundBuffer int
}

type inboundFrame struct {
	frame domain.Frame
	err   error
}

// Session drives one client connection through
// Connecting -> Authenticating -> Active -> Closing -> Closed.
//
// A single goroutine (Run) owns every transport write; a reader goroutine feeds inbound frames.
// Session is also the event sink of its connection once Active.
type Session struct {
	log       *slog.Logger
	clock     clock.Clock
	cfg       SessionConfig
	id        domain.ConnectionID
	transport contract.Transport
	identity  contract.IdentityProvider
	relay     contract.Relay
	validate  *validator.Validate
	state     atomic.Int32
	userID    domain.UserID
	outbound  chan event.DomainEvent
	closed    chan struct{}
	closeOnce sync.Once
}

func NewSession(
	log *slog.Logger,
	clk clock.Clock,
	cfg SessionConfig,
	id domain.ConnectionID,
	transport contract.Transport,
	identity contract.IdentityProvider,
	relay contract.Relay,
) *Session {
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = 64
	}
	if cfg.AckMode == "" {
		cfg.AckMode = domain.AckModeClient
	}
	return &Session{
		log:       log.With("connection_id", id),
		clock:     clk,
		cfg:       cfg,
		id:        id,
		transport: transport,
		identity:  identity,
		relay:     relay,
		validate:  validator.New(),
		outbound:  make(chan event.DomainEvent, cfg.OutboundBuffer),
		closed:    make(chan struct{}),
	}
}

func (s *Session) ID() domain.ConnectionID { return s.id }

func (s *Session) State() domain.ConnectionState {
	return domain.ConnectionState(s.state.Load())
}

// Run blocks until the session is Closed. It returns nil on a regular disconnect.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan inboundFrame)
	readErr := make(chan error, 1)
	go s.readLoop(ctx, inbound, readErr)

	s.setState(domain.Authenticating)
	userID, err := s.authenticate(ctx, inbound, readErr)
	if err != nil {
		s.log.Info("Authentication failed", "error", err, "remote", s.transport.RemoteAddr())
		s.close(false)
		return err
	}

	s.userID = userID
	// Active before Register so that deliveries racing the registration are accepted.
	s.setState(domain.Active)
	if err := s.relay.Register(ctx, userID, s.id, s); err != nil {
		s.writeError(ctx, err, "")
		s.close(false)
		return err
	}
	s.log.Info("Connection active", "user_id", userID)

	err = s.write(ctx, domain.Frame{Event: domain.EventRegistered, ConnectionID: string(s.id), UserID: string(userID)})
	if err == nil {
		err = s.serve(ctx, inbound, readErr)
	}
	s.close(true)
	if errors.Is(err, errors.ErrConnectionClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Consume queues an event for the transport. It fails once the session is closing.
func (s *Session) Consume(ctx context.Context, e event.DomainEvent) error {
	if s.State() >= domain.Closing {
		return errors.ErrConnectionClosed
	}
	select {
	case s.outbound <- e:
		return nil
	case <-s.closed:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) authenticate(ctx context.Context, inbound <-chan inboundFrame, readErr <-chan error) (domain.UserID, error) {
	timer := s.clock.Timer(s.cfg.AuthTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", errors.ErrHandshakeTimeout
		case err := <-readErr:
			return "", err
		case in := <-inbound:
			if in.err != nil {
				s.writeError(ctx, in.err, "")
				continue
			}
			if in.frame.Event != domain.EventAddUser {
				s.writeError(ctx, fmt.Errorf("%w: %s before %s", errors.ErrUnauthenticated, in.frame.Event, domain.EventAddUser), "")
				continue
			}
			userID, err := s.identity.Verify(ctx, in.frame.Token)
			if err != nil {
				err = fmt.Errorf("%w: %w", errors.ErrInvalidToken, err)
				s.writeError(ctx, err, "")
				return "", err
			}
			return userID, nil
		}
	}
}

func (s *Session) serve(ctx context.Context, inbound <-chan inboundFrame, readErr <-chan error) error {
	// A nil channel never fires, IdleTimeout <= 0 disables the idle check.
	var idleC <-chan time.Time
	var idle *clock.Timer
	if s.cfg.IdleTimeout > 0 {
		idle = s.clock.Timer(s.cfg.IdleTimeout)
		defer idle.Stop()
		idleC = idle.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-idleC:
			s.log.Info("Idle timeout, closing connection", "user_id", s.userID)
			return nil
		case in := <-inbound:
			if idle != nil {
				resetTimer(idle, s.cfg.IdleTimeout)
			}
			s.relay.Touch(s.id)
			if err := s.handle(ctx, in); err != nil {
				return err
			}
		case evt := <-s.outbound:
			if err := s.deliver(ctx, evt); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, in inboundFrame) error {
	if in.err != nil {
		return s.writeError(ctx, in.err, "")
	}
	f := in.frame
	switch f.Event {
	case domain.EventPing:
		return s.write(ctx, domain.Frame{Event: domain.EventPong})
	case domain.EventSendMessage:
		return s.sendMessage(ctx, f)
	case domain.EventAck:
		cmd := f.AckCommand()
		if err := s.validate.Struct(cmd); err != nil {
			return s.writeError(ctx, fmt.Errorf("%w: %w", errors.ErrInvalidFrame, err), "")
		}
		s.relay.Ack(cmd.MessageID, s.id)
		return nil
	case domain.EventAddUser:
		return s.writeError(ctx, errors.ErrAlreadyActive, "")
	default:
		return s.writeError(ctx, fmt.Errorf("%w: %q", errors.ErrUnknownEvent, f.Event), "")
	}
}

func (s *Session) sendMessage(ctx context.Context, f domain.Frame) error {
	cmd := f.SendMessageCommand()
	if err := s.validate.Struct(cmd); err != nil {
		return s.writeError(ctx, fmt.Errorf("%w: %w", errors.ErrInvalidFrame, err), cmd.ClientMsgID)
	}
	receipt, err := s.relay.Send(ctx, domain.SendRequest{
		SenderID:    s.userID,
		ReceiverID:  cmd.ReceiverID,
		Payload:     cmd.Payload,
		Origin:      s.id,
		ClientMsgID: cmd.ClientMsgID,
	})
	if err != nil {
		return s.writeError(ctx, err, cmd.ClientMsgID)
	}
	return s.write(ctx, domain.Frame{
		Event:       domain.EventSent,
		MessageID:   uint64(receipt.MessageID),
		Seq:         receipt.Seq,
		ReceiverID:  string(cmd.ReceiverID),
		ClientMsgID: cmd.ClientMsgID,
	})
}

// deliver writes an outbound event. In transport ack mode a written message counts as received.
func (s *Session) deliver(ctx context.Context, evt event.DomainEvent) error {
	f, ok := ToFrame(evt)
	if !ok {
		return nil
	}
	if err := s.write(ctx, f); err != nil {
		return err
	}
	if received, ok := evt.(event.MessageReceived); ok && s.cfg.AckMode == domain.AckModeTransport {
		s.relay.Ack(received.MessageID, s.id)
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, inbound chan<- inboundFrame, readErr chan<- error) {
	for {
		f, err := s.transport.ReadFrame(ctx)
		if err != nil && !errors.Is(err, errors.ErrInvalidFrame) {
			readErr <- err
			return
		}
		select {
		case inbound <- inboundFrame{frame: f, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) write(ctx context.Context, f domain.Frame) error {
	if err := s.transport.WriteFrame(ctx, f); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrConnectionClosed, err)
	}
	return nil
}

// writeError reports err to the client, only a failed write is returned.
func (s *Session) writeError(ctx context.Context, err error, clientMsgID string) error {
	return s.write(ctx, domain.Frame{
		Event:       domain.EventError,
		Code:        errors.Code(err),
		Message:     err.Error(),
		ClientMsgID: clientMsgID,
	})
}

// close releases the connection. A registered session goes through Closing and leaves the registry
// before the transport is closed.
func (s *Session) close(registered bool) {
	s.closeOnce.Do(func() {
		if registered {
			s.setState(domain.Closing)
			s.relay.Unregister(s.id)
		}
		if err := s.transport.Close(); err != nil {
			s.log.Debug("Transport close failed", "error", err)
		}
		close(s.closed)
		s.setState(domain.Closed)
		s.log.Debug("Connection closed", "user_id", s.userID)
	})
}

func (s *Session) setState(state domain.ConnectionState) {
	s.state.Store(int32(state))
}

// ToFrame maps relay events to wire frames, false for events clients never see.
func ToFrame(evt event.DomainEvent) (domain.Frame, bool) {
	switch e := evt.(type) {
	case event.MessageReceived:
		return domain.Frame{
			Event:      domain.EventReceiveMessage,
			MessageID:  uint64(e.MessageID),
			Seq:        e.Seq,
			SenderID:   string(e.SenderID),
			ReceiverID: string(e.ReceiverID),
			Payload:    string(e.Payload),
		}, true
	case event.MessageEcho:
		return domain.Frame{
			Event:      domain.EventEchoMessage,
			MessageID:  uint64(e.MessageID),
			Seq:        e.Seq,
			SenderID:   string(e.SenderID),
			ReceiverID: string(e.ReceiverID),
			Payload:    string(e.Payload),
		}, true
	case event.PresenceChanged:
		online := e.Online
		return domain.Frame{Event: domain.EventPresenceChanged, UserID: string(e.UserID), Online: &online}, true
	case event.DeliveryStatus:
		return domain.Frame{
			Event:      domain.EventDeliveryStatus,
			MessageID:  uint64(e.MessageID),
			ReceiverID: string(e.ReceiverID),
			State:      e.State.String(),
			Reason:     string(e.Reason),
		}, true
	default:
		return domain.Frame{}, false
	}
}

// resetTimer stops t, drains a pending tick, and rearms it.
func resetTimer(t *clock.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
