// ABOUTME: Room membership resolution and transport-level room groups
// ABOUTME: Membership is always read from the store; room groups track joined connections

package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/2389/mulchat-gateway/internal/events"
	"github.com/2389/mulchat-gateway/internal/presence"
	"github.com/2389/mulchat-gateway/internal/store"
)

// Resolver looks up group members. Nothing is cached so membership changes
// made through the REST API apply to the very next message.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver backed by st.
func NewResolver(st Store) *Resolver {
	return &Resolver{store: st}
}

// MembersOf returns the current members of a room.
// Returns ErrRoomNotFound if the room doesn't exist.
func (r *Resolver) MembersOf(ctx context.Context, roomID string) ([]string, error) {
	members, err := r.store.GetGroupMembers(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving members of %s: %w", roomID, err)
	}
	return members, nil
}

// RoomGroups tracks which connections joined which room. Groups only scope
// typing relays; message fan-out always goes through the Resolver.
type RoomGroups struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]presence.Conn // room ID -> conn ID -> conn
	byConn map[string]map[string]struct{}      // conn ID -> room IDs
}

// NewRoomGroups creates an empty set of room groups.
func NewRoomGroups() *RoomGroups {
	return &RoomGroups{
		rooms:  make(map[string]map[string]presence.Conn),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds conn to the room's group.
func (g *RoomGroups) Join(roomID string, conn presence.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	conns, ok := g.rooms[roomID]
	if !ok {
		conns = make(map[string]presence.Conn)
		g.rooms[roomID] = conns
	}
	conns[conn.ID()] = conn

	joined, ok := g.byConn[conn.ID()]
	if !ok {
		joined = make(map[string]struct{})
		g.byConn[conn.ID()] = joined
	}
	joined[roomID] = struct{}{}
}

// Leave removes a connection from one room.
func (g *RoomGroups) Leave(roomID, connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveLocked(roomID, connID)
}

// LeaveAll removes a connection from every room and returns how many it left.
func (g *RoomGroups) LeaveAll(connID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	joined := g.byConn[connID]
	n := len(joined)
	for roomID := range joined {
		g.leaveLocked(roomID, connID)
	}
	return n
}

func (g *RoomGroups) leaveLocked(roomID, connID string) {
	if conns, ok := g.rooms[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(g.rooms, roomID)
		}
	}
	if joined, ok := g.byConn[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(g.byConn, connID)
		}
	}
}

// Size returns the number of connections in a room.
func (g *RoomGroups) Size(roomID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[roomID])
}

// Push delivers ev to every connection in the room except exceptConnID.
func (g *RoomGroups) Push(roomID string, ev events.Push, exceptConnID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	delivered := 0
	for id, c := range g.rooms[roomID] {
		if id == exceptConnID {
			continue
		}
		if c.Push(ev) == nil {
			delivered++
		}
	}
	return delivered
}
