// Package presencev1 is the wire contract of the relay presence service.
// Requests and replies are protobuf well-known types carried by the default proto codec.
package presencev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName                                   = "relay.presence.v1.PresenceService"
	PresenceService_IsOnline_FullMethodName       = "/" + ServiceName + "/IsOnline"
	PresenceService_Connections_FullMethodName    = "/" + ServiceName + "/Connections"
	PresenceService_OnlineUsers_FullMethodName    = "/" + ServiceName + "/OnlineUsers"
	PresenceService_DeliveryStatus_FullMethodName = "/" + ServiceName + "/DeliveryStatus"
)

// PresenceServiceServer is the server API for the presence service.
type PresenceServiceServer interface {
	IsOnline(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Connections(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	OnlineUsers(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	DeliveryStatus(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
}

// UnimplementedPresenceServiceServer can be embedded to have forward compatible implementations.
type UnimplementedPresenceServiceServer struct{}

func (UnimplementedPresenceServiceServer) IsOnline(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method IsOnline not implemented")
}

func (UnimplementedPresenceServiceServer) Connections(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Connections not implemented")
}

func (UnimplementedPresenceServiceServer) OnlineUsers(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Error(codes.Unimplemented, "method OnlineUsers not implemented")
}

func (UnimplementedPresenceServiceServer) DeliveryStatus(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method DeliveryStatus not implemented")
}

func RegisterPresenceServiceServer(s grpc.ServiceRegistrar, srv PresenceServiceServer) {
	s.RegisterService(&PresenceService_ServiceDesc, srv)
}

var PresenceService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PresenceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "IsOnline",
			Handler:    unaryHandler(PresenceService_IsOnline_FullMethodName, PresenceServiceServer.IsOnline),
		},
		{
			MethodName: "Connections",
			Handler:    unaryHandler(PresenceService_Connections_FullMethodName, PresenceServiceServer.Connections),
		},
		{
			MethodName: "OnlineUsers",
			Handler:    unaryHandler(PresenceService_OnlineUsers_FullMethodName, PresenceServiceServer.OnlineUsers),
		},
		{
			MethodName: "DeliveryStatus",
			Handler:    unaryHandler(PresenceService_DeliveryStatus_FullMethodName, PresenceServiceServer.DeliveryStatus),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay/presence/v1/presence.proto",
}

// unaryHandler decodes Req, runs the interceptor chain and dispatches to call.
func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(PresenceServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PresenceServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PresenceServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// PresenceServiceClient is the client API for the presence service.
type PresenceServiceClient interface {
	IsOnline(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	Connections(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error)
	OnlineUsers(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	DeliveryStatus(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type presenceServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPresenceServiceClient(cc grpc.ClientConnInterface) PresenceServiceClient {
	return &presenceServiceClient{cc: cc}
}

func (c *presenceServiceClient) IsOnline(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, PresenceService_IsOnline_FullMethodName, in, out, opts)
}

func (c *presenceServiceClient) Connections(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	return out, c.invoke(ctx, PresenceService_Connections_FullMethodName, in, out, opts)
}

func (c *presenceServiceClient) OnlineUsers(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	return out, c.invoke(ctx, PresenceService_OnlineUsers_FullMethodName, in, out, opts)
}

func (c *presenceServiceClient) DeliveryStatus(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, PresenceService_DeliveryStatus_FullMethodName, in, out, opts)
}

func (c *presenceServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	return c.cc.Invoke(ctx, method, in, out, opts...)
}
