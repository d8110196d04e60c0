// ABOUTME: In-memory registry of live connections keyed by user
// ABOUTME: Detects online/offline transitions and delivers pushes to every connection of a user

package presence

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/mulchat-gateway/internal/events"
)

// ErrReservedUser indicates an identity that may never hold a connection.
var ErrReservedUser = errors.New("user id is reserved")

// ErrConnectionBound indicates the connection already belongs to another user.
var ErrConnectionBound = errors.New("connection already bound to another user")

// Conn is a live client connection as seen by the registry.
// Push must not block.
type Conn interface {
	ID() string
	Push(ev events.Push) error
}

// Registry tracks live connections per user.
type Registry struct {
	mu       sync.RWMutex
	users    map[string]map[string]Conn // user ID -> conn ID -> conn
	owners   map[string]string          // conn ID -> user ID
	reserved map[string]struct{}
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Reserved IDs (the AI bot) are
// refused by Register.
func NewRegistry(logger *slog.Logger, reserved ...string) *Registry {
	r := &Registry{
		users:    make(map[string]map[string]Conn),
		owners:   make(map[string]string),
		reserved: make(map[string]struct{}, len(reserved)),
		logger:   logger,
	}
	for _, id := range reserved {
		r.reserved[id] = struct{}{}
	}
	return r
}

// Register binds conn to userID. It returns true when this is the user's
// first live connection. Registering the same pair twice is a no-op.
func (r *Registry) Register(userID string, conn Conn) (bool, error) {
	if userID == "" {
		return false, errors.New("user id is required")
	}
	if _, ok := r.reserved[userID]; ok {
		return false, ErrReservedUser
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[conn.ID()]; ok {
		if owner != userID {
			return false, ErrConnectionBound
		}
		return false, nil
	}

	conns, existed := r.users[userID]
	if !existed {
		conns = make(map[string]Conn)
		r.users[userID] = conns
	}
	conns[conn.ID()] = conn
	r.owners[conn.ID()] = userID

	r.logger.Debug("connection registered",
		"user_id", userID,
		"conn_id", conn.ID(),
		"user_connections", len(conns),
	)
	return !existed, nil
}

// Unregister removes conn from whichever user owns it. It returns the owner
// and true when that was the owner's last connection. Unknown connections
// return ("", false).
func (r *Registry) Unregister(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[conn.ID()]
	if !ok {
		return "", false
	}
	delete(r.owners, conn.ID())

	conns := r.users[userID]
	delete(conns, conn.ID())
	if len(conns) > 0 {
		return userID, false
	}
	delete(r.users, userID)
	return userID, true
}

// UserFor returns the user a connection is bound to.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.owners[connID]
	return userID, ok
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[userID]
	result := make([]Conn, 0, len(conns))
	for _, c := range conns {
		result = append(result, c)
	}
	return result
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userID]) > 0
}

// OnlineUsers returns the IDs of every online user, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns the number of online users and live connections.
func (r *Registry) Stats() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users), len(r.owners)
}

// Push delivers ev to every connection of userID except exceptConnID.
// It returns how many connections accepted the event. Offline users are
// not an error; the message is simply not delivered live.
func (r *Registry) Push(userID string, ev events.Push, exceptConnID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for id, c := range r.users[userID] {
		if id == exceptConnID {
			continue
		}
		if err := c.Push(ev); err != nil {
			r.logger.Warn("dropping push for slow or closed connection",
				"user_id", userID,
				"conn_id", id,
				"event", ev.Name,
				"error", err,
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Broadcast delivers ev to every live connection.
func (r *Registry) Broadcast(ev events.Push) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for userID, conns := range r.users {
		for id, c := range conns {
			if err := c.Push(ev); err != nil {
				r.logger.Warn("dropping broadcast for slow or closed connection",
					"user_id", userID,
					"conn_id", id,
					"event", ev.Name,
					"error", err,
				)
				continue
			}
			delivered++
		}
	}
	return delivered
}
