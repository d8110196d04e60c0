// ABOUTME: Tests for connection lifecycle handling
// ABOUTME: Covers presence broadcasts, store mirroring and room join authorization

package chat

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mulchat-gateway/internal/events"
)

func statusEvents(c *recordingConn) []events.UserStatus {
	var out []events.UserStatus
	for _, p := range c.named(events.PushUserStatusChanged) {
		out = append(out, p.Data.(events.UserStatus))
	}
	return out
}

func TestOnIdentify_BroadcastsOnlyFirstConnection(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)
	watcher := h.connect(t, "watcher", "w1")
	watcher.reset()

	u1 := newRecordingConn("u1-a")
	require.NoError(t, h.lifecycle.OnIdentify(t.Context(), u1, "U1"))
	assert.Equal(t, []events.UserStatus{{UserID: "U1", IsOnline: true}}, statusEvents(watcher))

	updated := watcher.named(events.PushUsersUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, events.UsersUpdated{UserIDs: []string{"U1", "watcher"}}, updated[0].Data)

	watcher.reset()
	require.NoError(t, h.lifecycle.OnIdentify(t.Context(), newRecordingConn("u1-b"), "U1"))
	assert.Empty(t, watcher.all(), "second device is not a transition")

	updates := h.store.PresenceUpdates()
	require.Len(t, updates, 2) // watcher, then U1
	assert.Equal(t, "U1", updates[1].UserID)
	assert.True(t, updates[1].Online)
}

func TestOnIdentify_RefusesBotIdentity(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)

	err := h.lifecycle.OnIdentify(t.Context(), newRecordingConn("c1"), testBotID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.False(t, h.registry.IsOnline(testBotID))
}

func TestOnDisconnect_LastConnectionGoesOffline(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)
	watcher := h.connect(t, "watcher", "w1")
	phone := h.connect(t, "U1", "phone")
	laptop := h.connect(t, "U1", "laptop")
	watcher.reset()

	h.lifecycle.OnDisconnect(t.Context(), phone)
	assert.Empty(t, statusEvents(watcher))
	assert.True(t, h.registry.IsOnline("U1"))

	h.lifecycle.OnDisconnect(t.Context(), laptop)
	assert.Equal(t, []events.UserStatus{{UserID: "U1", IsOnline: false}}, statusEvents(watcher))

	updates := h.store.PresenceUpdates()
	last := updates[len(updates)-1]
	assert.Equal(t, "U1", last.UserID)
	assert.False(t, last.Online)
	assert.False(t, last.At.IsZero())

	// Unknown handle: no-op.
	watcher.reset()
	assert.NotPanics(t, func() { h.lifecycle.OnDisconnect(t.Context(), laptop) })
	assert.NotPanics(t, func() { h.lifecycle.OnDisconnect(t.Context(), newRecordingConn("never-seen")) })
	assert.Empty(t, watcher.all())
}

func TestOnDisconnect_StoreFailureStillBroadcasts(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)
	watcher := h.connect(t, "watcher", "w1")
	u1 := h.connect(t, "U1", "u1")
	watcher.reset()
	h.store.SetUserOnlineErr = errors.New("disk full")

	h.lifecycle.OnDisconnect(t.Context(), u1)

	assert.Equal(t, []events.UserStatus{{UserID: "U1", IsOnline: false}}, statusEvents(watcher))
}

func TestOnJoinRoom(t *testing.T) {
	t.Run("member may join", func(t *testing.T) {
		h := newHarness(t, defaultConfig(), nil)
		h.store.AddGroup("g", "alice")
		alice := h.connect(t, "alice", "a1")

		require.NoError(t, h.lifecycle.OnJoinRoom(t.Context(), alice, "alice", "g"))
		assert.Equal(t, 1, h.lifecycle.rooms.Size("g"))

		h.lifecycle.OnLeaveRoom(alice, "g")
		assert.Equal(t, 0, h.lifecycle.rooms.Size("g"))
	})

	t.Run("non-member refused", func(t *testing.T) {
		h := newHarness(t, defaultConfig(), nil)
		h.store.AddGroup("g", "alice")
		mallory := h.connect(t, "mallory", "m1")

		err := h.lifecycle.OnJoinRoom(t.Context(), mallory, "mallory", "g")
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Equal(t, 0, h.lifecycle.rooms.Size("g"))
	})

	t.Run("unknown room", func(t *testing.T) {
		h := newHarness(t, defaultConfig(), nil)
		alice := h.connect(t, "alice", "a1")

		err := h.lifecycle.OnJoinRoom(t.Context(), alice, "alice", "nope")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	t.Run("advisory mode skips membership", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.EnforceRoomMembership = false
		h := newHarness(t, cfg, nil)
		mallory := h.connect(t, "mallory", "m1")

		require.NoError(t, h.lifecycle.OnJoinRoom(t.Context(), mallory, "mallory", "anything"))
		assert.Equal(t, 1, h.lifecycle.rooms.Size("anything"))
	})

	t.Run("disconnect leaves all rooms", func(t *testing.T) {
		h := newHarness(t, defaultConfig(), nil)
		h.store.AddGroup("g1", "alice")
		h.store.AddGroup("g2", "alice")
		alice := h.connect(t, "alice", "a1")
		require.NoError(t, h.lifecycle.OnJoinRoom(t.Context(), alice, "alice", "g1"))
		require.NoError(t, h.lifecycle.OnJoinRoom(t.Context(), alice, "alice", "g2"))

		h.lifecycle.OnDisconnect(t.Context(), alice)
		assert.Equal(t, 0, h.lifecycle.rooms.Size("g1"))
		assert.Equal(t, 0, h.lifecycle.rooms.Size("g2"))
	})
}

func TestPresence_ReconnectDuringOfflineWriteEndsOnline(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)
	watcher := h.connect(t, "watcher", "w1")
	phone := h.connect(t, "U1", "phone")
	watcher.reset()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.store.SetUserOnlineHook = func(userID string, online bool) error {
		if userID == "U1" && !online {
			once.Do(func() { close(entered) })
			<-release
		}
		return nil
	}

	disconnected := make(chan struct{})
	go func() {
		h.lifecycle.OnDisconnect(t.Context(), phone)
		close(disconnected)
	}()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("offline write never started")
	}

	// The laptop connects while the offline write is still in progress.
	identified := make(chan error, 1)
	go func() {
		identified <- h.lifecycle.OnIdentify(t.Context(), newRecordingConn("laptop"), "U1")
	}()
	require.Eventually(t, func() bool { return h.registry.IsOnline("U1") }, 5*time.Second, time.Millisecond)
	close(release)

	<-disconnected
	require.NoError(t, <-identified)

	assert.True(t, h.registry.IsOnline("U1"))

	updates := h.store.PresenceUpdates()
	last := updates[len(updates)-1]
	assert.Equal(t, "U1", last.UserID)
	assert.True(t, last.Online, "persisted presence must match the registry")

	statuses := statusEvents(watcher)
	require.NotEmpty(t, statuses)
	assert.Equal(t, events.UserStatus{UserID: "U1", IsOnline: true}, statuses[len(statuses)-1])

	updated := watcher.named(events.PushUsersUpdated)
	require.NotEmpty(t, updated)
	assert.Equal(t, events.UsersUpdated{UserIDs: []string{"U1", "watcher"}}, updated[len(updated)-1].Data)
}

func TestPresence_StaleTransitionDropped(t *testing.T) {
	h := newHarness(t, defaultConfig(), nil)
	watcher := h.connect(t, "watcher", "w1")
	h.connect(t, "U1", "u1")
	watcher.reset()
	before := len(h.store.PresenceUpdates())

	// An offline transition overtaken by a reconnect changes nothing.
	h.lifecycle.transition(t.Context(), "U1", false)

	assert.Empty(t, watcher.all())
	assert.Len(t, h.store.PresenceUpdates(), before)
	assert.Empty(t, h.lifecycle.transitions.locks, "per-user locks are released")
}
