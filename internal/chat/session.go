// ABOUTME: Per-connection session consuming inbound events in order
// ABOUTME: One dispatch function maps the event enum onto lifecycle and router calls

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/mulchat-gateway/internal/events"
	"github.com/2389/mulchat-gateway/internal/presence"
)

// Session is the event processing context of one connection. Dispatch must
// be called from a single goroutine; that gives per-connection ordering.
type Session struct {
	conn      presence.Conn
	verified  string // identity proven at connect time, empty in anonymous mode
	userID    string // identity bound by identify
	lifecycle *Lifecycle
	router    *Router
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewSession creates a session for conn. verifiedUserID is the identity the
// transport authenticated, or empty when the gateway trusts identify.
func NewSession(conn presence.Conn, verifiedUserID string, lifecycle *Lifecycle, router *Router, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	lifecycle.OnConnect(conn)
	return &Session{
		conn:      conn,
		verified:  verifiedUserID,
		lifecycle: lifecycle,
		router:    router,
		logger:    logger.With("component", "session", "conn_id", conn.ID()),
	}
}

// UserID returns the identity bound to the session, if any.
func (s *Session) UserID() string {
	return s.userID
}

// Run dispatches events from in until it is closed or ctx is done, then
// runs disconnect cleanup.
func (s *Session) Run(ctx context.Context, in <-chan events.Inbound) {
	defer s.Close(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if ev.Kind == events.KindDisconnect {
				return
			}
			if err := s.Dispatch(ctx, ev); err != nil {
				s.logger.Debug("event rejected", "event", ev.Kind.String(), "error", err)
			}
		}
	}
}

// Dispatch handles a single inbound event. Any failure has already been
// reported to the connection when Dispatch returns it.
func (s *Session) Dispatch(ctx context.Context, ev events.Inbound) error {
	switch ev.Kind {
	case events.KindIdentify:
		return s.notify(s.identify(ctx, ev.UserID))

	case events.KindJoinRoom:
		if s.userID == "" {
			return s.notify(ErrNotIdentified)
		}
		return s.notify(s.lifecycle.OnJoinRoom(ctx, s.conn, s.userID, ev.RoomID))

	case events.KindLeaveRoom:
		if s.userID == "" {
			return s.notify(ErrNotIdentified)
		}
		s.lifecycle.OnLeaveRoom(s.conn, ev.RoomID)
		return nil

	case events.KindSendMessage:
		if s.userID == "" {
			return s.notify(ErrNotIdentified)
		}
		if ev.Send == nil {
			return s.notify(fmt.Errorf("%w: missing payload", ErrInvalidRequest))
		}
		// The router reports its own failures.
		return s.router.HandleSend(ctx, s.conn, s.userID, *ev.Send)

	case events.KindTyping:
		if s.userID == "" {
			return s.notify(ErrNotIdentified)
		}
		if ev.Typing == nil {
			return s.notify(fmt.Errorf("%w: missing payload", ErrInvalidRequest))
		}
		return s.notify(s.router.HandleTyping(s.conn, s.userID, *ev.Typing))

	case events.KindDisconnect:
		s.Close(ctx)
		return nil

	default:
		return s.notify(fmt.Errorf("%w: unknown event %d", ErrInvalidRequest, ev.Kind))
	}
}

func (s *Session) identify(ctx context.Context, claimed string) error {
	userID := claimed
	if userID == "" {
		userID = s.verified
	}
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if s.verified != "" && userID != s.verified {
		return fmt.Errorf("%w: identity does not match token", ErrForbidden)
	}
	if s.userID != "" {
		if s.userID != userID {
			return fmt.Errorf("%w: connection already identified", ErrForbidden)
		}
		return nil
	}

	if err := s.lifecycle.OnIdentify(ctx, s.conn, userID); err != nil {
		return err
	}
	s.userID = userID
	s.logger = s.logger.With("user_id", userID)
	return nil
}

// Close runs disconnect cleanup once.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.lifecycle.OnDisconnect(ctx, s.conn)
	})
}

// notify reports err to the connection and returns it.
func (s *Session) notify(err error) error {
	if err == nil {
		return nil
	}
	if pushErr := s.conn.Push(errorPush(err, "")); pushErr != nil {
		s.logger.Debug("error notification dropped", "error", pushErr)
	}
	return err
}
