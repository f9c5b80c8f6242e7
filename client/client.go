// Package client is a Go client of the relay websocket protocol.
package client

import (
	"chat-relay/domain"
	"chat-relay/errors"
	ws "chat-relay/infrastructure/websocket"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Options struct {
	// AutoAck acknowledges every received message as soon as it is read.
	AutoAck      bool
	WriteTimeout time.Duration
	Buffer       int
}

// Client is one authenticated relay connection.
type Client struct {
	log          *slog.Logger
	transport    *ws.Transport
	opts         Options
	connectionID domain.ConnectionID
	userID       domain.UserID
	frames       chan domain.Frame
	done         chan struct{}

	mu      sync.Mutex
	pending map[string]chan domain.Frame
	err     error
}

// Dial opens a websocket to url and performs the addUser handshake.
func Dial(ctx context.Context, log *slog.Logger, url, token string, opts Options) (*Client, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		log:       log,
		transport: ws.NewTransport(conn, 0, opts.WriteTimeout),
		opts:      opts,
		frames:    make(chan domain.Frame, opts.Buffer),
		done:      make(chan struct{}),
		pending:   make(map[string]chan domain.Frame),
	}
	if err := c.handshake(ctx, token); err != nil {
		_ = c.transport.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) handshake(ctx context.Context, token string) error {
	if err := c.transport.WriteFrame(ctx, domain.Frame{Event: domain.EventAddUser, Token: token}); err != nil {
		return err
	}
	type result struct {
		frame domain.Frame
		err   error
	}
	res := make(chan result, 1)
	go func() {
		f, err := c.transport.ReadFrame(ctx)
		res <- result{f, err}
	}()
	select {
	case <-ctx.Done():
		_ = c.transport.Close()
		return ctx.Err()
	case r := <-res:
		if r.err != nil {
			return r.err
		}
		switch r.frame.Event {
		case domain.EventRegistered:
			c.connectionID = domain.ConnectionID(r.frame.ConnectionID)
			c.userID = domain.UserID(r.frame.UserID)
			return nil
		case domain.EventError:
			return frameError(r.frame)
		default:
			return fmt.Errorf("%w: unexpected %q during handshake", errors.ErrInvalidFrame, r.frame.Event)
		}
	}
}

func (c *Client) ConnectionID() domain.ConnectionID { return c.connectionID }

func (c *Client) UserID() domain.UserID { return c.userID }

// Frames yields every server frame that is not the reply to a Send. It must be drained.
// It is closed when the connection ends.
func (c *Client) Frames() <-chan domain.Frame { return c.frames }

// Done is closed when the connection ends, Err then tells why.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send submits a message and waits for the relay to allocate its id.
func (c *Client) Send(ctx context.Context, receiverID domain.UserID, payload string) (domain.Receipt, error) {
	clientMsgID := uuid.NewString()
	reply := make(chan domain.Frame, 1)
	c.mu.Lock()
	c.pending[clientMsgID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, clientMsgID)
		c.mu.Unlock()
	}()

	err := c.transport.WriteFrame(ctx, domain.Frame{
		Event:       domain.EventSendMessage,
		ReceiverID:  string(receiverID),
		Payload:     payload,
		ClientMsgID: clientMsgID,
	})
	if err != nil {
		return domain.Receipt{}, err
	}

	select {
	case <-ctx.Done():
		return domain.Receipt{}, ctx.Err()
	case <-c.done:
		return domain.Receipt{}, errors.ErrConnectionClosed
	case f := <-reply:
		if f.Event == domain.EventError {
			return domain.Receipt{}, frameError(f)
		}
		return domain.Receipt{MessageID: domain.MessageID(f.MessageID), Seq: f.Seq}, nil
	}
}

func (c *Client) Ack(ctx context.Context, messageID domain.MessageID) error {
	return c.transport.WriteFrame(ctx, domain.Frame{Event: domain.EventAck, MessageID: uint64(messageID)})
}

func (c *Client) Ping(ctx context.Context) error {
	return c.transport.WriteFrame(ctx, domain.Frame{Event: domain.EventPing})
}

func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) readLoop() {
	defer close(c.frames)
	defer close(c.done)
	ctx := context.Background()
	for {
		f, err := c.transport.ReadFrame(ctx)
		if errors.Is(err, errors.ErrInvalidFrame) {
			c.log.Warn("Dropping undecodable frame", "error", err)
			continue
		}
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		if c.resolve(f) {
			continue
		}
		if f.Event == domain.EventReceiveMessage && c.opts.AutoAck {
			if err := c.Ack(ctx, domain.MessageID(f.MessageID)); err != nil {
				c.log.Warn("Ack failed", "message_id", f.MessageID, "error", err)
			}
		}
		c.frames <- f
	}
}

// resolve hands a sent or error frame to the Send waiting for it.
func (c *Client) resolve(f domain.Frame) bool {
	if f.ClientMsgID == "" || (f.Event != domain.EventSent && f.Event != domain.EventError) {
		return false
	}
	c.mu.Lock()
	reply, ok := c.pending[f.ClientMsgID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	reply <- f
	return true
}

func frameError(f domain.Frame) error {
	return fmt.Errorf("%w: %s", errors.FromCode(f.Code), f.Message)
}
