package e2e

import (
	"chat-relay/auth"
	"chat-relay/client"
	"chat-relay/domain"
	grpcclient "chat-relay/infrastructure/grpc/client"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type BaseRelaySuite struct {
	suite.Suite
	Config Config
	tokens *auth.JWTProvider
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RelayWS == "" || s.Config.JWTSecret == "" {
		s.T().Skip("E2E_RELAY_WS and E2E_JWT_SECRET must point at a running relay")
	}
	s.tokens = auth.NewJWTProvider(s.Config.JWTSecret, s.Config.JWTIssuer, clock.New())
}

func (s *BaseRelaySuite) header(t *testing.T, name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)
}

func (s *BaseRelaySuite) Token(userID domain.UserID) string {
	token, err := s.tokens.GenerateToken(string(userID), nil, time.Hour)
	s.Require().NoError(err)
	return token
}

// Connect opens an authenticated relay connection that is closed with the test.
func (s *BaseRelaySuite) Connect(name string, userID domain.UserID, opts client.Options) *client.Client {
	s.header(s.T(), name)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, logs.GetLoggerFromLevel(slog.LevelInfo), s.Config.RelayWS, s.Token(userID), opts)
	s.Require().NoError(err, "Failed to connect to relay at "+s.Config.RelayWS)
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

// Await skips frames until one satisfies match.
func (s *BaseRelaySuite) Await(c *client.Client, match func(domain.Frame) bool) domain.Frame {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case f, ok := <-c.Frames():
			s.Require().True(ok, "connection ended: %v", c.Err())
			if match(f) {
				return f
			}
		case <-timeout:
			s.FailNow("timed out waiting for a frame")
		}
	}
}

// WithPresence provides a presence service client within a contextual test step
func (s *BaseRelaySuite) WithPresence(name string, caller domain.UserID, fn func(ctx context.Context, client *grpcclient.PresenceClient)) {
	t := s.T()
	s.header(t, name)

	pc, err := grpcclient.NewPresenceClient(s.Config.RelayGRPC, s.Token(caller),
		grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			start := time.Now()
			err := invoker(ctx, method, req, reply, cc, opts...)

			logBuilder := strings.Builder{}
			fmt.Fprintf(&logBuilder, "GRPC %s [%s] in %v", method, status.Code(err), time.Since(start))

			// Log full JSON request/response bodies if E2E_DEBUG_JSON is enabled
			if s.Config.DebugJSON {
				fmt.Fprintln(&logBuilder, "\nREQUEST:")
				fmt.Fprintln(&logBuilder, indent(req))
				if err != nil {
					fmt.Fprintln(&logBuilder, "ERROR:", err)
				} else {
					fmt.Fprintln(&logBuilder, "RESPONSE:")
					fmt.Fprintln(&logBuilder, indent(reply))
				}
			}
			t.Log(logBuilder.String())
			return err
		}),
	)
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.RelayGRPC)
	defer pc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, pc)
}

var marshaler = protojson.MarshalOptions{
	UseProtoNames:   true,
	Multiline:       true,
	EmitUnpopulated: true,
}

func indent(v any) string {
	if m, ok := v.(proto.Message); ok {
		return marshaler.Format(m)
	}
	return fmt.Sprintf("%+v", v)
}

func isDeliveryStatus(id domain.MessageID) func(domain.Frame) bool {
	return func(f domain.Frame) bool {
		return f.Event == domain.EventDeliveryStatus && f.MessageID == uint64(id)
	}
}
