package websocket

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/runtime"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type HandlerConfig struct {
	Session      runtime.SessionConfig
	ReadLimit    int64
	WriteTimeout time.Duration
}

// Handler upgrades HTTP requests on /ws and runs one session per connection.
// Sessions live as long as ctx, not as long as the request.
type Handler struct {
	ctx      context.Context
	log      *slog.Logger
	clock    clock.Clock
	cfg      HandlerConfig
	identity contract.IdentityProvider
	relay    contract.Relay
	upgrader websocket.Upgrader
}

func NewHandler(
	ctx context.Context,
	log *slog.Logger,
	clk clock.Clock,
	cfg HandlerConfig,
	identity contract.IdentityProvider,
	relay contract.Relay,
) *Handler {
	return &Handler{
		ctx:      ctx,
		log:      log,
		clock:    clk,
		cfg:      cfg,
		identity: identity,
		relay:    relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients are served from another origin, authentication happens in the handshake frame.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	connID := domain.ConnectionID(uuid.NewString())
	transport := NewTransport(conn, h.cfg.ReadLimit, h.cfg.WriteTimeout)
	session := runtime.NewSession(h.log, h.clock, h.cfg.Session, connID, transport, h.identity, h.relay)

	h.log.Debug("Connection opened", "connection_id", connID, "remote", r.RemoteAddr)
	if err := session.Run(h.ctx); err != nil && !errors.Is(err, errors.ErrConnectionClosed) {
		h.log.Info("Session ended with error", "connection_id", connID, "error", err)
	}
}
