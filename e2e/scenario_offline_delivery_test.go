package e2e

import (
	"chat-relay/client"
	"chat-relay/domain"
	"chat-relay/errors"
	grpcclient "chat-relay/infrastructure/grpc/client"
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type testOfflineDeliverySuite struct {
	BaseRelaySuite
}

func TestOfflineDeliverySuite(t *testing.T) {
	suite.Run(t, &testOfflineDeliverySuite{})
}

func (s *testOfflineDeliverySuite) TestHeldUntilReceiverConnects() {
	suffix := uuid.NewString()[:8]
	alice := domain.UserID("alice-" + suffix)
	bob := domain.UserID("bob-" + suffix)
	var messageID domain.MessageID

	sender := s.Connect("Alice connects", alice, client.Options{})

	// --- STEP 1: SEND TO AN OFFLINE RECEIVER ---
	s.Run("Step 1: Message to an offline user is accepted and pending", func() {
		receipt, err := sender.Send(context.Background(), bob, "hello")
		s.Require().NoError(err)
		s.Require().NotZero(receipt.MessageID)
		s.Require().Equal(uint64(1), receipt.Seq)
		messageID = receipt.MessageID

		s.WithPresence("Status is pending", alice, func(ctx context.Context, pc *grpcclient.PresenceClient) {
			online, _, err := pc.IsOnline(ctx, bob)
			s.Require().NoError(err)
			s.Require().False(online)

			st, err := pc.DeliveryStatus(ctx, messageID)
			s.Require().NoError(err)
			s.Require().Equal("Pending", st.State)
		})
	})

	// --- STEP 2: RECEIVER COMES ONLINE ---
	s.Run("Step 2: Backlog is flushed when the receiver connects", func() {
		receiver := s.Connect("Bob connects", bob, client.Options{AutoAck: true})

		received := s.Await(receiver, func(f domain.Frame) bool { return f.Event == domain.EventReceiveMessage })
		s.Require().Equal(uint64(messageID), received.MessageID)
		s.Require().Equal(string(alice), received.SenderID)
		s.Require().Equal("hello", received.Payload)

		online := s.Await(sender, func(f domain.Frame) bool {
			return f.Event == domain.EventPresenceChanged && f.UserID == string(bob)
		})
		s.Require().True(*online.Online)

		status := s.Await(sender, isDeliveryStatus(messageID))
		s.Require().Equal("Delivered", status.State)
	})

	// --- STEP 3: ADMIN SURFACES AGREE ---
	s.Run("Step 3: Presence service and user directory reflect the delivery", func() {
		s.WithPresence("Status is delivered", alice, func(ctx context.Context, pc *grpcclient.PresenceClient) {
			st, err := pc.DeliveryStatus(ctx, messageID)
			s.Require().NoError(err)
			s.Require().Equal("Delivered", st.State)
			s.Require().NotEmpty(st.DeliveredTo)
		})

		users, err := client.ListUsers(context.Background(), http.DefaultClient, s.Config.RelayHTTP, s.Token(alice))
		s.Require().NoError(err)
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		s.Require().Contains(ids, string(bob))
		s.Require().NotContains(ids, string(alice))
	})
}

func (s *testOfflineDeliverySuite) TestOversizedPayloadIsRejected() {
	alice := domain.UserID("alice-" + uuid.NewString()[:8])
	sender := s.Connect("Alice connects", alice, client.Options{})

	_, err := sender.Send(context.Background(), "bob", strings.Repeat("x", 70000))

	s.Require().True(errors.Is(err, errors.ErrPayloadTooLarge), "got %v", err)
}
