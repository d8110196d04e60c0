// ABOUTME: WebSocket connection handle implementing presence.Conn
// ABOUTME: Pushes go through a bounded queue; a writer goroutine owns the socket's write side

package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/mulchat-gateway/internal/events"
)

// Connection errors
var (
	ErrClosed    = errors.New("connection closed")
	ErrQueueFull = errors.New("send queue full")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxFrameSize leaves room for a maximum length message plus its envelope
	maxFrameSize = 512 * 1024
)

// Conn is one live WebSocket connection.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newConn(id string, ws *websocket.Conn, queue int, logger *slog.Logger) *Conn {
	return &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, queue),
		done:   make(chan struct{}),
		logger: logger.With("conn_id", id),
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() string {
	return c.id
}

// Push queues ev for delivery without blocking. A full queue drops the push
// and returns ErrQueueFull.
func (c *Conn) Push(ev events.Push) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := Encode(ev)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Done is closed once the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// writeLoop drains the queue to the socket and keeps the peer alive with pings.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}

		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// readLoop decodes frames into out until the socket fails, then closes out.
// Undecodable frames are answered with an invalid_request error.
func (c *Conn) readLoop(out chan<- events.Inbound) {
	defer close(out)

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		ev, err := Decode(raw)
		if err != nil {
			c.logger.Debug("bad frame", "error", err)
			_ = c.Push(events.ErrorPush(events.CodeInvalidRequest, "invalid request", ""))
			continue
		}

		select {
		case out <- ev:
		case <-c.done:
			return
		}
		if ev.Kind == events.KindDisconnect {
			return
		}
	}
}
