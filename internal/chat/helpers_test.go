// ABOUTME: Shared fakes for chat tests: recording connections and scripted responders
// ABOUTME: The harness wires a MockStore, a Registry, a Router and a Lifecycle together

package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/mulchat-gateway/internal/dedupe"
	"github.com/2389/mulchat-gateway/internal/events"
	"github.com/2389/mulchat-gateway/internal/presence"
	"github.com/2389/mulchat-gateway/internal/store"
)

const testBotID = "677d9c66e765432101234567"

var errConnClosed = errors.New("connection closed")

type recordingConn struct {
	id     string
	mu     sync.Mutex
	pushes []events.Push
	closed bool
}

func newRecordingConn(id string) *recordingConn { return &recordingConn{id: id} }

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Push(ev events.Push) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.pushes = append(c.pushes, ev)
	return nil
}

func (c *recordingConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *recordingConn) all() []events.Push {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Push(nil), c.pushes...)
}

func (c *recordingConn) names() []string {
	var names []string
	for _, p := range c.all() {
		names = append(names, p.Name)
	}
	return names
}

func (c *recordingConn) named(name string) []events.Push {
	var out []events.Push
	for _, p := range c.all() {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

func (c *recordingConn) messages(name string) []*store.Message {
	var out []*store.Message
	for _, p := range c.named(name) {
		out = append(out, p.Data.(*store.Message))
	}
	return out
}

func (c *recordingConn) failures() []events.MessageError {
	var out []events.MessageError
	for _, p := range c.named(events.PushMessageError) {
		out = append(out, p.Data.(events.MessageError))
	}
	return out
}

func (c *recordingConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes = nil
}

// scriptedResponder returns a fixed reply or error. When gate is non-nil
// Complete waits for it to be closed or for ctx to end.
type scriptedResponder struct {
	reply string
	err   error
	gate  chan struct{}

	mu      sync.Mutex
	prompts []string
}

func (r *scriptedResponder) Complete(ctx context.Context, prompt string) (string, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()

	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.reply, r.err
}

func (r *scriptedResponder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

type harness struct {
	store     *store.MockStore
	registry  *presence.Registry
	router    *Router
	lifecycle *Lifecycle
}

func defaultConfig() Config {
	return Config{
		BotID:                 testBotID,
		AITimeout:             time.Second,
		SingleFlight:          true,
		EnforceRoomMembership: true,
	}
}

func newHarness(t *testing.T, cfg Config, responder Responder) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMockStore()
	registry := presence.NewRegistry(logger, cfg.BotID)
	sent := dedupe.New[*store.Message](time.Minute, 100)
	t.Cleanup(sent.Close)

	deps := Deps{
		Store:     st,
		Registry:  registry,
		Rooms:     NewRoomGroups(),
		Responder: responder,
		Sent:      sent,
		Logger:    logger,
	}
	h := &harness{
		store:     st,
		registry:  registry,
		router:    NewRouter(deps, cfg),
		lifecycle: NewLifecycle(deps, cfg),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.router.Wait(ctx)
	})
	return h
}

// connect identifies a new connection for userID and clears its pushes.
func (h *harness) connect(t *testing.T, userID, connID string) *recordingConn {
	t.Helper()
	c := newRecordingConn(connID)
	require.NoError(t, h.lifecycle.OnIdentify(t.Context(), c, userID))
	return c
}

func (h *harness) waitForTurns(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.router.Wait(ctx))
}

func resetAll(conns ...*recordingConn) {
	for _, c := range conns {
		c.reset()
	}
}
