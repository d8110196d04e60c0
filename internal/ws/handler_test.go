// ABOUTME: End-to-end tests for the WebSocket handler
// ABOUTME: Runs real sockets through httptest against the chat core and a mock store

package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mulchat-gateway/internal/auth"
	"github.com/2389/mulchat-gateway/internal/chat"
	"github.com/2389/mulchat-gateway/internal/events"
	"github.com/2389/mulchat-gateway/internal/presence"
	"github.com/2389/mulchat-gateway/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeUsers map[string]*store.User

func (f fakeUsers) GetUser(_ context.Context, id string) (*store.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

type testServer struct {
	server   *httptest.Server
	handler  *Handler
	store    *store.MockStore
	registry *presence.Registry
}

func newTestServer(t *testing.T, verifier auth.TokenVerifier) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMockStore()
	registry := presence.NewRegistry(logger, "bot")
	deps := chat.Deps{Store: st, Registry: registry, Rooms: chat.NewRoomGroups(), Logger: logger}
	cfg := chat.Config{BotID: "bot", EnforceRoomMembership: true}

	h := NewHandler(Options{
		Verifier:  verifier,
		Users:     fakeUsers{"alice": {ID: "alice", Username: "alice"}},
		Lifecycle: chat.NewLifecycle(deps, cfg),
		Router:    chat.NewRouter(deps, cfg),
		SendQueue: 16,
		Logger:    logger,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		srv.Close()
	})
	return &testServer{server: srv, handler: h, store: st, registry: registry}
}

func (s *testServer) url(query string) string {
	u := "ws" + strings.TrimPrefix(s.server.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// expect reads frames until one named event arrives.
func expect(t *testing.T, c *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, raw, err := c.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		var f received
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Event == event {
			return f.Data
		}
	}
}

func waitOnline(t *testing.T, r *presence.Registry, userID string, online bool) {
	t.Helper()
	require.Eventually(t, func() bool { return r.IsOnline(userID) == online },
		5*time.Second, 10*time.Millisecond)
}

func TestHandler_AnonymousDirectMessage(t *testing.T) {
	ts := newTestServer(t, nil)

	alice := dial(t, ts.url(""))
	bob := dial(t, ts.url(""))

	send(t, alice, `{"event":"user_connected","data":"alice"}`)
	waitOnline(t, ts.registry, "alice", true)
	send(t, bob, `{"event":"identify","data":{"userId":"bob"}}`)
	waitOnline(t, ts.registry, "bob", true)

	send(t, alice, `{"event":"send_message","data":{"receiverId":"bob","content":"hello","clientMsgId":"c1"}}`)

	var got Message
	require.NoError(t, json.Unmarshal(expect(t, bob, events.PushReceiveMessage), &got))
	assert.Equal(t, "alice", got.SenderID)
	assert.Equal(t, "bob", got.RecipientID)
	assert.Equal(t, "bob", got.ReceiverID)
	assert.Equal(t, "hello", got.Content)

	var echo Message
	require.NoError(t, json.Unmarshal(expect(t, alice, events.PushMessageSent), &echo))
	assert.Equal(t, got.ID, echo.ID)

	require.Len(t, ts.store.Messages(), 1)
}

func TestHandler_InvalidFrameAndUnidentifiedSend(t *testing.T) {
	ts := newTestServer(t, nil)
	c := dial(t, ts.url(""))

	send(t, c, `garbage`)
	var e events.MessageError
	require.NoError(t, json.Unmarshal(expect(t, c, events.PushMessageError), &e))
	assert.Equal(t, events.CodeInvalidRequest, e.Code)

	send(t, c, `{"event":"send_message","data":{"receiverId":"bob","content":"hi"}}`)
	require.NoError(t, json.Unmarshal(expect(t, c, events.PushMessageError), &e))
	assert.Equal(t, events.CodeNotIdentified, e.Code)
	assert.Empty(t, ts.store.Messages())
}

func TestHandler_DisconnectBroadcastsOffline(t *testing.T) {
	ts := newTestServer(t, nil)

	watcher := dial(t, ts.url(""))
	send(t, watcher, `{"event":"identify","data":{"userId":"watcher"}}`)
	waitOnline(t, ts.registry, "watcher", true)

	leaver := dial(t, ts.url(""))
	send(t, leaver, `{"event":"identify","data":{"userId":"leaver"}}`)
	waitOnline(t, ts.registry, "leaver", true)

	require.NoError(t, leaver.Close())
	waitOnline(t, ts.registry, "leaver", false)

	for {
		var st events.UserStatus
		require.NoError(t, json.Unmarshal(expect(t, watcher, events.PushUserStatusChanged), &st))
		if st.UserID == "leaver" && !st.IsOnline {
			break
		}
	}
}

func TestHandler_TokenAuth(t *testing.T) {
	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	ts := newTestServer(t, verifier)

	t.Run("missing token is rejected before upgrade", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(ts.url(""), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown user is rejected", func(t *testing.T) {
		token, err := verifier.Generate("mallory", time.Hour)
		require.NoError(t, err)
		_, resp, err := websocket.DefaultDialer.Dial(ts.url("token="+token), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("verified connection is identified automatically", func(t *testing.T) {
		token, err := verifier.Generate("alice", time.Hour)
		require.NoError(t, err)

		header := http.Header{"Authorization": []string{"Bearer " + token}}
		c, _, err := websocket.DefaultDialer.Dial(ts.url(""), header)
		require.NoError(t, err)
		defer c.Close()

		waitOnline(t, ts.registry, "alice", true)

		send(t, c, `{"event":"identify","data":{"userId":"bob"}}`)
		var e events.MessageError
		require.NoError(t, json.Unmarshal(expect(t, c, events.PushMessageError), &e))
		assert.Equal(t, events.CodeForbidden, e.Code)
	})
}

func TestHandler_ShutdownClosesConnections(t *testing.T) {
	ts := newTestServer(t, nil)
	c := dial(t, ts.url(""))
	send(t, c, `{"event":"identify","data":{"userId":"alice"}}`)
	waitOnline(t, ts.registry, "alice", true)
	require.Equal(t, 1, ts.handler.Len())

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.handler.Shutdown(ctx))

	assert.False(t, ts.registry.IsOnline("alice"))
	assert.Equal(t, 0, ts.handler.Len())
}
