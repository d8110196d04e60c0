// ABOUTME: Tests for the connection push queue
// ABOUTME: Pushes never block; they fail fast when the queue is full or closed

package ws

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/mulchat-gateway/internal/events"
)

func TestConn_PushQueue(t *testing.T) {
	c := newConn("c1", nil, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ev := events.Push{Name: events.PushAITyping, Data: events.AITyping{IsTyping: true}}

	assert.NoError(t, c.Push(ev))
	assert.ErrorIs(t, c.Push(ev), ErrQueueFull)

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Push(ev), ErrClosed)

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}
