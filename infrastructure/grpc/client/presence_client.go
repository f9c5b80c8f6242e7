package client

import (
	"chat-relay/domain"
	pb "chat-relay/infrastructure/grpc/presencev1"
	"context"

	"github.com/samber/lo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// bearer attaches the token to every call.
type bearer string

func (b bearer) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(b)}, nil
}

func (bearer) RequireTransportSecurity() bool { return false }

// PresenceClient queries a relay presence service.
type PresenceClient struct {
	conn   *grpc.ClientConn
	client pb.PresenceServiceClient
}

func NewPresenceClient(target, token string, opts ...grpc.DialOption) (*PresenceClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(bearer(token)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &PresenceClient{conn: conn, client: pb.NewPresenceServiceClient(conn)}, nil
}

func (c *PresenceClient) IsOnline(ctx context.Context, userID domain.UserID) (bool, int, error) {
	res, err := c.client.IsOnline(ctx, wrapperspb.String(string(userID)))
	if err != nil {
		return false, 0, err
	}
	presence := pb.PresenceFromProto(res)
	return presence.Online, presence.Connections, nil
}

func (c *PresenceClient) Connections(ctx context.Context, userID domain.UserID) ([]domain.Connection, error) {
	res, err := c.client.Connections(ctx, wrapperspb.String(string(userID)))
	if err != nil {
		return nil, err
	}
	conns, err := pb.ConnectionsFromProto(res)
	if err != nil {
		return nil, err
	}
	return lo.Map(conns, func(c pb.Connection, _ int) domain.Connection {
		return domain.Connection{
			ID:           domain.ConnectionID(c.ID),
			UserID:       domain.UserID(c.UserID),
			CreatedAt:    c.CreatedAt,
			LastActivity: c.LastActivity,
		}
	}), nil
}

func (c *PresenceClient) OnlineUsers(ctx context.Context) ([]domain.UserID, error) {
	res, err := c.client.OnlineUsers(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	return lo.Map(pb.UsersFromProto(res), func(u string, _ int) domain.UserID { return domain.UserID(u) }), nil
}

func (c *PresenceClient) DeliveryStatus(ctx context.Context, messageID domain.MessageID) (pb.DeliveryStatus, error) {
	res, err := c.client.DeliveryStatus(ctx, wrapperspb.UInt64(uint64(messageID)))
	if err != nil {
		return pb.DeliveryStatus{}, err
	}
	return pb.DeliveryStatusFromProto(res)
}

func (c *PresenceClient) Close() error {
	return c.conn.Close()
}
