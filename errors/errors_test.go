package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCode_Wrapped_Sentinel(t *testing.T) {
	req := require.New(t)

	// Given a sentinel wrapped with context
	err := fmt.Errorf("%w: 70000 > 65536", ErrPayloadTooLarge)

	// Then the client code is still resolved
	req.Equal("PayloadTooLarge", Code(err))
	req.Equal("Unauthenticated", Code(ErrInvalidToken))
	req.Equal("Internal", Code(fmt.Errorf("boom")))
}

func TestMapToGRPCError(t *testing.T) {
	req := require.New(t)

	req.Nil(MapToGRPCError(nil))
	req.Equal(codes.Unauthenticated, status.Code(MapToGRPCError(ErrInvalidToken)))
	req.Equal(codes.NotFound, status.Code(MapToGRPCError(fmt.Errorf("%w: 42", ErrUnknownMessage))))
	req.Equal(codes.Internal, status.Code(MapToGRPCError(fmt.Errorf("boom"))))
}

func TestFromCode(t *testing.T) {
	req := require.New(t)

	req.True(Is(FromCode(Code(ErrPayloadTooLarge)), ErrPayloadTooLarge))
	req.True(Is(FromCode("Unauthenticated"), ErrUnauthenticated))
	req.EqualError(FromCode("Nope"), "relay error Nope")
}
