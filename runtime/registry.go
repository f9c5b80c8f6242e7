package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
)

type Set map[domain.ConnectionID]struct{}

type connectionEntry struct {
	conn         domain.Connection
	sink         contract.EventSink
	lastActivity atomic.Int64
}

type userShard struct {
	mu          sync.RWMutex
	connections map[domain.UserID]Set
}

type ownerShard struct {
	mu      sync.RWMutex
	entries map[domain.ConnectionID]*connectionEntry
}

// Route is a resolved delivery target.
type Route struct {
	ConnectionID domain.ConnectionID
	UserID       domain.UserID
	Sink         contract.EventSink
}

// Registry maps a user to its live connections and each connection to its owner.
//
// Mutations run inside a per-user critical section (lock striping on the user id),
// so that registry state and presence transitions of one user are applied in order.
// Reads only take the short shard locks and never wait on that critical section.
type Registry struct {
	clock     clock.Clock
	presence  *PresenceTracker
	userLocks *stripes
	users     []*userShard
	owners    []*ownerShard
}

func NewRegistry(clk clock.Clock, presence *PresenceTracker, shards int) *Registry {
	if shards <= 0 {
		shards = defaultStripes
	}
	r := &Registry{
		clock:     clk,
		presence:  presence,
		userLocks: newStripes(shards),
		users:     make([]*userShard, shards),
		owners:    make([]*ownerShard, shards),
	}
	for i := 0; i < shards; i++ {
		r.users[i] = &userShard{connections: make(map[domain.UserID]Set)}
		r.owners[i] = &ownerShard{entries: make(map[domain.ConnectionID]*connectionEntry)}
	}
	return r
}

// Register binds connID to userID. Registering the same pair twice is a no-op.
// It fails with ErrDuplicateConnection when connID already belongs to another user.
// The presence tracker is told about the new connection before Register returns,
// so a presence query never sees the user online before its connection exists.
func (r *Registry) Register(userID domain.UserID, connID domain.ConnectionID, sink contract.EventSink) error {
	unlock := r.userLocks.lock(string(userID))
	defer unlock()

	os := r.ownerShard(connID)
	os.mu.Lock()
	if existing, ok := os.entries[connID]; ok {
		os.mu.Unlock()
		if existing.conn.UserID != userID {
			return fmt.Errorf("%w: %s is owned by %s", errors.ErrDuplicateConnection, connID, existing.conn.UserID)
		}
		return nil
	}
	now := r.clock.Now().UTC()
	entry := &connectionEntry{
		conn: domain.Connection{ID: connID, UserID: userID, CreatedAt: now},
		sink: sink,
	}
	entry.lastActivity.Store(now.UnixNano())
	os.entries[connID] = entry
	os.mu.Unlock()

	us := r.userShard(userID)
	us.mu.Lock()
	if _, ok := us.connections[userID]; !ok {
		us.connections[userID] = make(Set)
	}
	us.connections[userID][connID] = struct{}{}
	us.mu.Unlock()

	r.presence.ConnectionAdded(userID)
	return nil
}

// Unregister removes connID. Unknown ids are ignored to tolerate duplicate disconnect signals.
// It reports whether a connection was actually removed.
func (r *Registry) Unregister(connID domain.ConnectionID) bool {
	owner, ok := r.OwnerOf(connID)
	if !ok {
		return false
	}

	unlock := r.userLocks.lock(string(owner))
	defer unlock()

	os := r.ownerShard(connID)
	os.mu.Lock()
	entry, ok := os.entries[connID]
	if !ok || entry.conn.UserID != owner {
		// Removed (and maybe re-registered) by someone else meanwhile.
		os.mu.Unlock()
		return false
	}
	delete(os.entries, connID)
	os.mu.Unlock()

	us := r.userShard(owner)
	us.mu.Lock()
	if members, ok := us.connections[owner]; ok {
		delete(members, connID)
		// No empty sets left behind
		if len(members) == 0 {
			delete(us.connections, owner)
		}
	}
	us.mu.Unlock()

	r.presence.ConnectionRemoved(owner)
	return true
}

// ConnectionsFor returns the sorted live connections of userID, empty for unknown users.
func (r *Registry) ConnectionsFor(userID domain.UserID) []domain.ConnectionID {
	us := r.userShard(userID)
	us.mu.RLock()
	ids := lo.Keys(us.connections[userID])
	us.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (r *Registry) OwnerOf(connID domain.ConnectionID) (domain.UserID, bool) {
	os := r.ownerShard(connID)
	os.mu.RLock()
	defer os.mu.RUnlock()
	entry, ok := os.entries[connID]
	if !ok {
		return "", false
	}
	return entry.conn.UserID, true
}

// Sink resolves the event sink of a live connection.
func (r *Registry) Sink(connID domain.ConnectionID) (contract.EventSink, bool) {
	os := r.ownerShard(connID)
	os.mu.RLock()
	defer os.mu.RUnlock()
	entry, ok := os.entries[connID]
	if !ok {
		return nil, false
	}
	return entry.sink, true
}

// Connection returns a snapshot of connID including its last activity.
func (r *Registry) Connection(connID domain.ConnectionID) (domain.Connection, bool) {
	os := r.ownerShard(connID)
	os.mu.RLock()
	defer os.mu.RUnlock()
	entry, ok := os.entries[connID]
	if !ok {
		return domain.Connection{}, false
	}
	conn := entry.conn
	conn.LastActivity = timeFromNano(entry.lastActivity.Load())
	return conn, true
}

// Touch records traffic on connID.
func (r *Registry) Touch(connID domain.ConnectionID) {
	os := r.ownerShard(connID)
	os.mu.RLock()
	defer os.mu.RUnlock()
	if entry, ok := os.entries[connID]; ok {
		entry.lastActivity.Store(r.clock.Now().UTC().UnixNano())
	}
}

// SinksFor returns the sinks of every live connection of userID.
func (r *Registry) SinksFor(userID domain.UserID) []contract.EventSink {
	return lo.FilterMap(r.ConnectionsFor(userID), func(id domain.ConnectionID, _ int) (contract.EventSink, bool) {
		return r.Sink(id)
	})
}

// SinksExcept returns the sinks of every live connection not owned by userID.
func (r *Registry) SinksExcept(userID domain.UserID) []contract.EventSink {
	routes := lo.Filter(r.Routes(), func(route Route, _ int) bool {
		return route.UserID != userID
	})
	return lo.Map(routes, func(route Route, _ int) contract.EventSink {
		return route.Sink
	})
}

// Routes snapshots every live connection.
func (r *Registry) Routes() []Route {
	var routes []Route
	for _, os := range r.owners {
		os.mu.RLock()
		for id, entry := range os.entries {
			routes = append(routes, Route{ConnectionID: id, UserID: entry.conn.UserID, Sink: entry.sink})
		}
		os.mu.RUnlock()
	}
	return routes
}

func (r *Registry) ConnectionCount() int {
	count := 0
	for _, os := range r.owners {
		os.mu.RLock()
		count += len(os.entries)
		os.mu.RUnlock()
	}
	return count
}

func (r *Registry) userShard(userID domain.UserID) *userShard {
	return r.users[stripeIndex(string(userID), len(r.users))]
}

func (r *Registry) ownerShard(connID domain.ConnectionID) *ownerShard {
	return r.owners[stripeIndex(string(connID), len(r.owners))]
}

func timeFromNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
