package runtime

import (
	"chat-relay/domain"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestPresenceTracker_Boundary_Crossings_Only(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceTracker(clock.NewMock(), 4)
	log := &presenceLog{}
	presence.OnPresenceChange(log.record)

	// Given alice opens three connections
	presence.ConnectionAdded("alice")
	presence.ConnectionAdded("alice")
	presence.ConnectionAdded("alice")

	// Then only the first one notified
	req.Len(log.snapshot(), 1)
	req.Equal(3, presence.ConnectionCount("alice"))

	// When two of them close
	presence.ConnectionRemoved("alice")
	presence.ConnectionRemoved("alice")

	// Then alice is still online and nothing was emitted
	req.True(presence.IsOnline("alice"))
	req.Len(log.snapshot(), 1)

	// When the last one closes
	presence.ConnectionRemoved("alice")

	// Then alice is offline
	events := log.snapshot()
	req.Len(events, 2)
	req.Equal(domain.UserID("alice"), events[1].UserID)
	req.False(events[1].Online)
	req.False(presence.IsOnline("alice"))
}

func TestPresenceTracker_Remove_Unknown_User(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceTracker(clock.NewMock(), 4)
	log := &presenceLog{}
	presence.OnPresenceChange(log.record)

	// When a user that never connected is removed
	presence.ConnectionRemoved("ghost")

	// Then nothing happens
	req.Empty(log.snapshot())
	req.Zero(presence.ConnectionCount("ghost"))
}

func TestPresenceTracker_OnlineUsers_Sorted(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceTracker(clock.NewMock(), 4)

	presence.ConnectionAdded("carol")
	presence.ConnectionAdded("alice")
	presence.ConnectionAdded("bob")
	presence.ConnectionRemoved("bob")

	req.Equal([]domain.UserID{"alice", "carol"}, presence.OnlineUsers())
}
