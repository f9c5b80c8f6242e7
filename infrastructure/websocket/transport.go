package websocket

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport binds a session to a gorilla websocket connection carrying JSON frames.
// Reads happen on a single goroutine, writes are serialized.
type Transport struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// frameEnvelope bounds everything in a frame but the payload.
const frameEnvelope = 4096

// FrameReadLimit is the largest websocket message that can carry a payload of maxPayload bytes.
// JSON escapes a control byte as \u00XX, six bytes on the wire for one byte of payload.
func FrameReadLimit(maxPayload int) int64 {
	return int64(maxPayload)*6 + frameEnvelope
}

func NewTransport(conn *websocket.Conn, readLimit int64, writeTimeout time.Duration) *Transport {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &Transport{conn: conn, writeTimeout: writeTimeout}
}

// ReadFrame blocks until the next frame. Closing the transport unblocks it.
// Undecodable frames return ErrInvalidFrame and leave the connection usable,
// every other failure is terminal and wraps ErrConnectionClosed.
func (t *Transport) ReadFrame(_ context.Context) (domain.Frame, error) {
	messageType, data, err := t.conn.ReadMessage()
	if err != nil {
		return domain.Frame{}, fmt.Errorf("%w: %w", errors.ErrConnectionClosed, err)
	}
	if messageType != websocket.TextMessage {
		return domain.Frame{}, fmt.Errorf("%w: binary message", errors.ErrInvalidFrame)
	}
	var f domain.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.Frame{}, fmt.Errorf("%w: %w", errors.ErrInvalidFrame, err)
	}
	return f, nil
}

func (t *Transport) WriteFrame(ctx context.Context, f domain.Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(t.deadline(ctx)); err != nil {
		return err
	}
	return t.conn.WriteJSON(f)
}

// Close sends a close frame on a best-effort basis and releases the connection. It is idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *Transport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *Transport) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
