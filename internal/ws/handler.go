// ABOUTME: HTTP handler upgrading requests to WebSocket chat sessions
// ABOUTME: Authenticates at upgrade, then runs one session per connection until it closes

package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/mulchat-gateway/internal/auth"
	"github.com/2389/mulchat-gateway/internal/chat"
	"github.com/2389/mulchat-gateway/internal/events"
)

// Options configures a Handler.
type Options struct {
	// Verifier authenticates the upgrade request. Nil runs in anonymous mode,
	// where the identify event is trusted.
	Verifier auth.TokenVerifier
	Users    auth.UserLookup

	Lifecycle *chat.Lifecycle
	Router    *chat.Router

	// SendQueue bounds each connection's outbound queue. Zero means 64.
	SendQueue   int
	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

// Handler serves the /ws endpoint.
type Handler struct {
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	conns    map[string]*Conn
	sessions sync.WaitGroup
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: opts.Logger.With("component", "ws"),
		conns:  make(map[string]*Conn),
	}
}

// ServeHTTP authenticates, upgrades and runs the session until the socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var verified string
	if h.opts.Verifier != nil {
		id, errMsg := auth.Authenticate(r, h.opts.Users, h.opts.Verifier)
		if errMsg != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": errMsg})
			return
		}
		verified = id.UserID
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Debug("upgrade failed", "error", err)
		return
	}

	conn := newConn(uuid.New().String(), wsConn, h.opts.SendQueue, h.logger)
	h.track(conn)
	h.sessions.Add(1)
	defer func() {
		h.untrack(conn)
		conn.Close()
		h.sessions.Done()
	}()

	// The request context ends with this handler; presence cleanup must not.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	session := chat.NewSession(conn, verified, h.opts.Lifecycle, h.opts.Router, h.logger)
	h.logger.Debug("connection opened", "conn_id", conn.ID(), "verified_user", verified)

	go conn.writeLoop()

	if verified != "" {
		_ = session.Dispatch(ctx, events.Inbound{Kind: events.KindIdentify})
	}

	in := make(chan events.Inbound)
	go conn.readLoop(in)
	session.Run(ctx, in)

	h.logger.Debug("connection closed", "conn_id", conn.ID(), "user_id", session.UserID())
}

func (h *Handler) track(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
}

func (h *Handler) untrack(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.ID())
}

// Len returns the number of open connections.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every open connection and waits for their sessions to
// finish disconnect cleanup, or for ctx to end.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for _, c := range h.conns {
		c.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
