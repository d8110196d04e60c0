// ABOUTME: Mock Store implementation for testing
// ABOUTME: Covers the core-facing methods with injectable failures and call recording

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PresenceUpdate records a SetUserOnline call made against MockStore
type PresenceUpdate struct {
	UserID string
	Online bool
	At     time.Time
}

// MockStore is an in-memory implementation of the realtime core's persistence
// needs. Error fields, when set, are returned by the matching method.
type MockStore struct {
	mu       sync.RWMutex
	messages []*Message
	groups   map[string][]string // group ID -> member IDs
	users    map[string]*User
	presence []PresenceUpdate

	// CreateMessageErr fails every CreateMessage call when non-nil
	CreateMessageErr error
	// CreateMessageHook runs before each CreateMessage; a non-nil return fails the call
	CreateMessageHook func(ctx context.Context, msg *Message) error
	// SetUserOnlineErr fails every SetUserOnline call when non-nil
	SetUserOnlineErr error
	// SetUserOnlineHook runs before each SetUserOnline; a non-nil return fails the call
	SetUserOnlineHook func(userID string, online bool) error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		groups: make(map[string][]string),
		users:  make(map[string]*User),
	}
}

// AddGroup registers a group with the given members
func (m *MockStore) AddGroup(groupID string, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[groupID] = append([]string(nil), members...)
}

// AddUser registers a user for GetUser
func (m *MockStore) AddUser(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *u
	m.users[u.ID] = &c
}

// GetUser returns a registered user or ErrNotFound.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

// CreateMessage stores a copy of the message and assigns its ID.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	if m.CreateMessageHook != nil {
		if err := m.CreateMessageHook(ctx, msg); err != nil {
			return err
		}
	}
	if m.CreateMessageErr != nil {
		return m.CreateMessageErr
	}
	if (msg.RecipientID == "") == (msg.GroupID == "") {
		return fmt.Errorf("message must target exactly one of recipient or group")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Type = DeriveMessageType(msg)

	stored := *msg
	m.messages = append(m.messages, &stored)
	return nil
}

// GetGroupMembers returns the members of a group or ErrNotFound.
func (m *MockStore) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	result := make([]string, len(members))
	copy(result, members)
	return result, nil
}

// SetUserOnline records the presence update.
func (m *MockStore) SetUserOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	if m.SetUserOnlineHook != nil {
		if err := m.SetUserOnlineHook(userID, online); err != nil {
			return err
		}
	}
	if m.SetUserOnlineErr != nil {
		return m.SetUserOnlineErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence = append(m.presence, PresenceUpdate{UserID: userID, Online: online, At: at})
	return nil
}

// Messages returns copies of all stored messages in insertion order
func (m *MockStore) Messages() []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Message, len(m.messages))
	for i, msg := range m.messages {
		c := *msg
		result[i] = &c
	}
	return result
}

// MessagesFrom returns stored messages sent by senderID, oldest first
func (m *MockStore) MessagesFrom(senderID string) []*Message {
	var result []*Message
	for _, msg := range m.Messages() {
		if msg.SenderID == senderID {
			result = append(result, msg)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// PresenceUpdates returns the recorded SetUserOnline calls
func (m *MockStore) PresenceUpdates() []PresenceUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PresenceUpdate(nil), m.presence...)
}
