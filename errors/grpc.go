package errors

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MapToGRPCError translates the relay taxonomy into gRPC status errors.
func MapToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case Is(err, ErrInvalidToken), Is(err, ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case Is(err, ErrUnknownMessage):
		return status.Error(codes.NotFound, err.Error())
	case Is(err, ErrPayloadTooLarge), Is(err, ErrInvalidFrame):
		return status.Error(codes.InvalidArgument, err.Error())
	case Is(err, ErrDuplicateConnection):
		return status.Error(codes.AlreadyExists, err.Error())
	case Is(err, ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
