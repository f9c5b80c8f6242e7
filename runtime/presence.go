package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
)

type presenceShard struct {
	mu     sync.RWMutex
	counts map[domain.UserID]int
}

// PresenceTracker derives online/offline state from registry mutations.
// A user is online iff it owns at least one live connection. Subscribers are
// called synchronously, exactly once per 0<->1 boundary crossing.
//
// ConnectionAdded and ConnectionRemoved must be serialized per user by the caller;
// the Registry does it with its per-user critical section, which keeps transitions
// of a single user in order.
type PresenceTracker struct {
	clock       clock.Clock
	shards      []*presenceShard
	subMu       sync.RWMutex
	subscribers []func(event.PresenceChanged)
}

func NewPresenceTracker(clk clock.Clock, shards int) *PresenceTracker {
	if shards <= 0 {
		shards = defaultStripes
	}
	p := &PresenceTracker{clock: clk, shards: make([]*presenceShard, shards)}
	for i := range p.shards {
		p.shards[i] = &presenceShard{counts: make(map[domain.UserID]int)}
	}
	return p
}

// OnPresenceChange subscribes callback to boundary crossings.
// Callbacks may query the tracker and the registry but must not register or unregister connections.
func (p *PresenceTracker) OnPresenceChange(callback func(event.PresenceChanged)) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.subscribers = append(p.subscribers, callback)
}

func (p *PresenceTracker) IsOnline(userID domain.UserID) bool {
	return p.ConnectionCount(userID) > 0
}

func (p *PresenceTracker) ConnectionCount(userID domain.UserID) int {
	s := p.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[userID]
}

// OnlineUsers returns a sorted snapshot of every online user.
func (p *PresenceTracker) OnlineUsers() []domain.UserID {
	var users []domain.UserID
	for _, s := range p.shards {
		s.mu.RLock()
		for u := range s.counts {
			users = append(users, u)
		}
		s.mu.RUnlock()
	}
	slices.Sort(users)
	return users
}

func (p *PresenceTracker) ConnectionAdded(userID domain.UserID) {
	s := p.shard(userID)
	s.mu.Lock()
	s.counts[userID]++
	crossed := s.counts[userID] == 1
	s.mu.Unlock()

	if crossed {
		p.notify(event.PresenceChanged{UserID: userID, Online: true, At: p.clock.Now().UTC()})
	}
}

func (p *PresenceTracker) ConnectionRemoved(userID domain.UserID) {
	s := p.shard(userID)
	s.mu.Lock()
	count, ok := s.counts[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	count--
	if count == 0 {
		delete(s.counts, userID)
	} else {
		s.counts[userID] = count
	}
	s.mu.Unlock()

	if count == 0 {
		p.notify(event.PresenceChanged{UserID: userID, Online: false, At: p.clock.Now().UTC()})
	}
}

func (p *PresenceTracker) notify(evt event.PresenceChanged) {
	p.subMu.RLock()
	subscribers := slices.Clone(p.subscribers)
	p.subMu.RUnlock()
	for _, cb := range subscribers {
		cb(evt)
	}
}

func (p *PresenceTracker) shard(userID domain.UserID) *presenceShard {
	return p.shards[stripeIndex(string(userID), len(p.shards))]
}
