// ABOUTME: Connection lifecycle: identify, room join/leave and disconnect cleanup
// ABOUTME: Presence transitions are broadcast to every connection and mirrored to the store

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/mulchat-gateway/internal/events"
	"github.com/2389/mulchat-gateway/internal/presence"
)

// presenceWriteTimeout bounds the best-effort store update on transitions.
const presenceWriteTimeout = 5 * time.Second

// userLocks hands out one mutex per user, dropped once nobody holds it.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

// lock acquires userID's mutex and returns its unlock function.
func (u *userLocks) lock(userID string) func() {
	u.mu.Lock()
	l, ok := u.locks[userID]
	if !ok {
		l = &userLock{}
		u.locks[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, userID)
		}
		u.mu.Unlock()
	}
}

// Lifecycle manages presence and room groups as connections come and go.
type Lifecycle struct {
	store       Store
	registry    *presence.Registry
	rooms       *RoomGroups
	resolver    *Resolver
	transitions userLocks
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

// NewLifecycle creates a Lifecycle. deps.Rooms must be the same RoomGroups
// given to the Router so typing relays reach joined connections.
func NewLifecycle(deps Deps, cfg Config) *Lifecycle {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rooms := deps.Rooms
	if rooms == nil {
		rooms = NewRoomGroups()
	}
	return &Lifecycle{
		store:       deps.Store,
		registry:    deps.Registry,
		rooms:       rooms,
		resolver:    NewResolver(deps.Store),
		transitions: userLocks{locks: make(map[string]*userLock)},
		cfg:         cfg,
		logger:      logger.With("component", "lifecycle"),
		now:         time.Now,
	}
}

// OnConnect notes a new connection. Nothing happens until it identifies.
func (l *Lifecycle) OnConnect(conn presence.Conn) {
	l.logger.Debug("connection opened", "conn_id", conn.ID())
}

// OnIdentify binds conn to userID and announces the user if this is their
// first live connection.
func (l *Lifecycle) OnIdentify(ctx context.Context, conn presence.Conn, userID string) error {
	online, err := l.registry.Register(userID, conn)
	switch {
	case errors.Is(err, presence.ErrReservedUser), errors.Is(err, presence.ErrConnectionBound):
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	case err != nil:
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if !online {
		return nil
	}

	users, conns := l.registry.Stats()
	l.logger.Info("=== USER ONLINE ===",
		"user_id", userID,
		"conn_id", conn.ID(),
		"online_users", users,
		"connections", conns,
	)
	l.transition(ctx, userID, true)
	return nil
}

// OnJoinRoom adds conn to the room's group. With membership enforcement on,
// only members of the room may join.
func (l *Lifecycle) OnJoinRoom(ctx context.Context, conn presence.Conn, userID, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: room is required", ErrInvalidRequest)
	}
	if l.cfg.EnforceRoomMembership {
		members, err := l.resolver.MembersOf(ctx, roomID)
		if err != nil {
			return err
		}
		if !slices.Contains(members, userID) {
			return fmt.Errorf("%w: not a member of %s", ErrForbidden, roomID)
		}
	}

	l.rooms.Join(roomID, conn)
	l.logger.Debug("joined room", "user_id", userID, "conn_id", conn.ID(), "room_id", roomID)
	return nil
}

// OnLeaveRoom removes conn from the room's group.
func (l *Lifecycle) OnLeaveRoom(conn presence.Conn, roomID string) {
	l.rooms.Leave(roomID, conn.ID())
}

// OnDisconnect drops conn from every room and from the registry. Unknown
// connections are ignored.
func (l *Lifecycle) OnDisconnect(ctx context.Context, conn presence.Conn) {
	l.rooms.LeaveAll(conn.ID())

	userID, offline := l.registry.Unregister(conn)
	if !offline {
		if userID != "" {
			l.logger.Debug("connection closed, user still online", "user_id", userID, "conn_id", conn.ID())
		}
		return
	}

	users, conns := l.registry.Stats()
	l.logger.Info("=== USER OFFLINE ===",
		"user_id", userID,
		"conn_id", conn.ID(),
		"online_users", users,
		"connections", conns,
	)
	l.transition(ctx, userID, false)
}

// transition mirrors presence to the store and broadcasts it. Store failures
// are logged; live state wins over the persisted mirror.
//
// Transitions of one user run one at a time, and each re-reads the registry
// first: one overtaken by a newer connect or disconnect is dropped, so the
// last write and broadcast always match live state.
func (l *Lifecycle) transition(ctx context.Context, userID string, online bool) {
	unlock := l.transitions.lock(userID)
	defer unlock()

	if l.registry.IsOnline(userID) != online {
		l.logger.Debug("stale presence transition dropped", "user_id", userID, "online", online)
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceWriteTimeout)
	defer cancel()
	if err := l.store.SetUserOnline(writeCtx, userID, online, l.now()); err != nil {
		l.logger.Warn("failed to persist presence",
			"user_id", userID,
			"online", online,
			"error", err,
		)
	}

	l.registry.Broadcast(events.Push{
		Name: events.PushUserStatusChanged,
		Data: events.UserStatus{UserID: userID, IsOnline: online},
	})
	l.registry.Broadcast(events.Push{
		Name: events.PushUsersUpdated,
		Data: events.UsersUpdated{UserIDs: l.registry.OnlineUsers()},
	})
}
