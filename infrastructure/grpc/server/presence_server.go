package server

import (
	"chat-relay/domain"
	"chat-relay/errors"
	pb "chat-relay/infrastructure/grpc/presencev1"
	"context"
	"fmt"

	"github.com/samber/lo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// PresenceQuery is the read side of the relay the presence service exposes.
type PresenceQuery interface {
	IsOnline(userID domain.UserID) bool
	ConnectionsFor(userID domain.UserID) []domain.Connection
	OnlineUsers() []domain.UserID
	Status(messageID domain.MessageID) (domain.MessageStatus, bool)
}

type PresenceServer struct {
	pb.UnimplementedPresenceServiceServer
	relay PresenceQuery
}

func NewPresenceServer(relay PresenceQuery) *PresenceServer {
	return &PresenceServer{relay: relay}
}

func (s *PresenceServer) IsOnline(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "user id is required")
	}
	userID := domain.UserID(req.GetValue())
	return pb.Presence{
		UserID:      req.GetValue(),
		Online:      s.relay.IsOnline(userID),
		Connections: len(s.relay.ConnectionsFor(userID)),
	}.Proto(), nil
}

func (s *PresenceServer) Connections(_ context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "user id is required")
	}
	conns := s.relay.ConnectionsFor(domain.UserID(req.GetValue()))
	return pb.ConnectionsProto(lo.Map(conns, func(c domain.Connection, _ int) pb.Connection {
		return pb.Connection{
			ID:           string(c.ID),
			UserID:       string(c.UserID),
			CreatedAt:    c.CreatedAt,
			LastActivity: c.LastActivity,
		}
	})), nil
}

func (s *PresenceServer) OnlineUsers(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	return pb.UsersProto(lo.Map(s.relay.OnlineUsers(), func(u domain.UserID, _ int) string { return string(u) })), nil
}

func (s *PresenceServer) DeliveryStatus(_ context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	st, ok := s.relay.Status(domain.MessageID(req.GetValue()))
	if !ok {
		return nil, errors.MapToGRPCError(fmt.Errorf("%w: %d", errors.ErrUnknownMessage, req.GetValue()))
	}
	msg := st.Message
	return pb.DeliveryStatus{
		MessageID:   uint64(msg.ID),
		Seq:         msg.Seq,
		SenderID:    string(msg.SenderID),
		ReceiverID:  string(msg.ReceiverID),
		State:       msg.State.String(),
		Reason:      string(st.Reason),
		DeliveredTo: string(st.DeliveredTo),
		CreatedAt:   msg.CreatedAt,
	}.Proto(), nil
}
