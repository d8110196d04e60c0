// ABOUTME: Tests for MockStore behaviour relied on by router tests
// ABOUTME: Checks failure injection and call recording

package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_CreateMessage(t *testing.T) {
	m := NewMockStore()

	msg := &Message{SenderID: "a", RecipientID: "b", Content: "hi"}
	require.NoError(t, m.CreateMessage(t.Context(), msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, MessageTypeDirect, msg.Type)

	stored := m.MessagesFrom("a")
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)

	m.CreateMessageErr = errors.New("down")
	assert.Error(t, m.CreateMessage(t.Context(), &Message{SenderID: "a", RecipientID: "b"}))
	assert.Len(t, m.Messages(), 1)
}

func TestMockStore_Groups(t *testing.T) {
	m := NewMockStore()
	m.AddGroup("g1", "a", "b")

	members, err := m.GetGroupMembers(t.Context(), "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)

	_, err = m.GetGroupMembers(t.Context(), "g2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockStore_PresenceUpdates(t *testing.T) {
	m := NewMockStore()
	require.NoError(t, m.SetUserOnline(t.Context(), "a", true, fixedTime))
	require.NoError(t, m.SetUserOnline(t.Context(), "a", false, fixedTime))

	updates := m.PresenceUpdates()
	require.Len(t, updates, 2)
	assert.True(t, updates[0].Online)
	assert.False(t, updates[1].Online)
}
