package server_test

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/infrastructure/grpc/client"
	"chat-relay/infrastructure/grpc/presencev1"
	"chat-relay/infrastructure/grpc/server"
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	grpc3 "github.com/mama165/sdk-go/grpc"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeQuery struct {
	connections map[domain.UserID][]domain.Connection
	statuses    map[domain.MessageID]domain.MessageStatus
}

func (f fakeQuery) IsOnline(userID domain.UserID) bool {
	return len(f.connections[userID]) > 0
}

func (f fakeQuery) ConnectionsFor(userID domain.UserID) []domain.Connection {
	return f.connections[userID]
}

func (f fakeQuery) OnlineUsers() []domain.UserID {
	var users []domain.UserID
	for u, conns := range f.connections {
		if len(conns) > 0 {
			users = append(users, u)
		}
	}
	return users
}

func (f fakeQuery) Status(id domain.MessageID) (domain.MessageStatus, bool) {
	st, ok := f.statuses[id]
	return st, ok
}

func startServer(t *testing.T, query server.PresenceQuery, token string) *client.PresenceClient {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	provider := auth.NewJWTProvider("secret", "chat-relay", clock.NewMock())

	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpc3.UnaryLoggingInterceptor(log),
		auth.UnaryAuthInterceptor(provider),
	))
	presencev1.RegisterPresenceServiceServer(s, server.NewPresenceServer(query))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	c, err := client.NewPresenceClient("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.NewJWTProvider("secret", "chat-relay", clock.NewMock()).GenerateToken(userID, nil, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestPresenceServer_Queries(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	// Given bob holds two connections and message 7 was delivered to one of them
	createdAt := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	query := fakeQuery{
		connections: map[domain.UserID][]domain.Connection{
			"bob": {
				{ID: "c1", UserID: "bob", CreatedAt: createdAt, LastActivity: createdAt},
				{ID: "c2", UserID: "bob", CreatedAt: createdAt, LastActivity: createdAt},
			},
		},
		statuses: map[domain.MessageID]domain.MessageStatus{
			7: {
				Message:     domain.Message{ID: 7, Seq: 3, SenderID: "alice", ReceiverID: "bob", CreatedAt: createdAt, State: domain.Delivered},
				DeliveredTo: "c2",
			},
		},
	}
	c := startServer(t, query, token(t, "alice"))

	// When querying through the client
	online, count, err := c.IsOnline(ctx, "bob")
	req.NoError(err)

	// Then presence and connections reflect the relay state
	req.True(online)
	req.Equal(2, count)

	offline, _, err := c.IsOnline(ctx, "carol")
	req.NoError(err)
	req.False(offline)

	conns, err := c.Connections(ctx, "bob")
	req.NoError(err)
	req.Len(conns, 2)
	req.Equal(domain.ConnectionID("c1"), conns[0].ID)
	req.True(createdAt.Equal(conns[0].CreatedAt))

	users, err := c.OnlineUsers(ctx)
	req.NoError(err)
	req.Equal([]domain.UserID{"bob"}, users)

	st, err := c.DeliveryStatus(ctx, 7)
	req.NoError(err)
	req.Equal("Delivered", st.State)
	req.Equal("c2", st.DeliveredTo)
	req.Equal(uint64(3), st.Seq)
	req.True(createdAt.Equal(st.CreatedAt))
}

func TestPresenceServer_Message_Id_Survives_The_Wire(t *testing.T) {
	req := require.New(t)

	// Given a message id a protobuf double could not hold exactly
	id := domain.MessageID(1<<53 + 1)
	query := fakeQuery{statuses: map[domain.MessageID]domain.MessageStatus{
		id: {Message: domain.Message{ID: id, Seq: 1<<53 + 3, SenderID: "alice", ReceiverID: "bob", State: domain.Pending}},
	}}
	c := startServer(t, query, token(t, "alice"))

	// When reading its status over the proto codec
	st, err := c.DeliveryStatus(context.Background(), id)

	// Then both ids come back unchanged
	req.NoError(err)
	req.Equal(uint64(id), st.MessageID)
	req.Equal(uint64(1<<53+3), st.Seq)
	req.Equal("Pending", st.State)
}

func TestPresenceServer_UnknownMessageIsNotFound(t *testing.T) {
	req := require.New(t)
	c := startServer(t, fakeQuery{}, token(t, "alice"))

	// When asking for a message the ledger never saw
	_, err := c.DeliveryStatus(context.Background(), 42)

	// Then the call fails with NotFound
	req.Equal(codes.NotFound, status.Code(err))
}

func TestPresenceServer_MissingUserIsInvalid(t *testing.T) {
	req := require.New(t)
	c := startServer(t, fakeQuery{}, token(t, "alice"))

	_, _, err := c.IsOnline(context.Background(), "")

	req.Equal(codes.InvalidArgument, status.Code(err))
}

func TestPresenceServer_RejectsBadToken(t *testing.T) {
	req := require.New(t)

	// Given a client holding a token signed with another key
	forged, err := auth.NewJWTProvider("other", "chat-relay", clock.NewMock()).GenerateToken("alice", nil, time.Hour)
	req.NoError(err)
	c := startServer(t, fakeQuery{}, forged)

	// When calling any method
	_, err = c.OnlineUsers(context.Background())

	// Then the interceptor refuses it
	req.Equal(codes.Unauthenticated, status.Code(err))
}
