// ABOUTME: Message router: validate, persist, resolve recipients, push, then run the bot turn
// ABOUTME: The bot turn is a second independent send executed off the session goroutine

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/2389/mulchat-gateway/internal/dedupe"
	"github.com/2389/mulchat-gateway/internal/events"
	"github.com/2389/mulchat-gateway/internal/presence"
	"github.com/2389/mulchat-gateway/internal/store"
)

// MaxContentLength is the longest accepted message body, in characters.
const MaxContentLength = 50000

// replyWriteTimeout bounds persisting the bot reply once the model answered.
const replyWriteTimeout = 5 * time.Second

// Config tunes the router and lifecycle.
type Config struct {
	// BotID is the reserved identity of the AI responder.
	BotID string
	// BotName and BotUsername label the bot's messages without a store lookup.
	BotName     string
	BotUsername string
	// AITimeout bounds each model call. Zero means 30s.
	AITimeout time.Duration
	// SingleFlight refuses a second bot turn for a sender while one is running.
	SingleFlight bool
	// EnforceRoomMembership rejects join_room and group sends from non-members.
	EnforceRoomMembership bool
}

// Deps are the collaborators shared by Router and Lifecycle.
type Deps struct {
	Store    Store
	Registry *presence.Registry
	Rooms    *RoomGroups
	// Responder may be nil, in which case bot messages are stored and the
	// sender gets ai_unavailable.
	Responder Responder
	// Sent enables idempotent sends keyed by clientMsgId when non-nil.
	Sent   *dedupe.Cache[*store.Message]
	Logger *slog.Logger
}

// Router handles send_message and typing events.
type Router struct {
	store     Store
	registry  *presence.Registry
	rooms     *RoomGroups
	resolver  *Resolver
	responder Responder
	sent      *dedupe.Cache[*store.Message]
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{} // senders with a bot turn running
	turns    sync.WaitGroup
}

// NewRouter creates a Router.
func NewRouter(deps Deps, cfg Config) *Router {
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rooms := deps.Rooms
	if rooms == nil {
		rooms = NewRoomGroups()
	}
	return &Router{
		store:     deps.Store,
		registry:  deps.Registry,
		rooms:     rooms,
		resolver:  NewResolver(deps.Store),
		responder: deps.Responder,
		sent:      deps.Sent,
		cfg:       cfg,
		logger:    logger.With("component", "router"),
		now:       time.Now,
		inflight:  make(map[string]struct{}),
	}
}

// HandleSend routes one send request from senderID arriving on conn from.
// Failures are reported to from with exactly one message_error and returned.
func (r *Router) HandleSend(ctx context.Context, from presence.Conn, senderID string, req events.SendMessage) error {
	if err := validateSend(senderID, req); err != nil {
		return r.reject(from, err, req.ClientMsgID)
	}

	// Group members are resolved before persisting so non-members never
	// store a message. A failed lookup still stores it and aborts routing.
	var members []string
	var resolveErr error
	if req.Room != "" {
		members, resolveErr = r.resolver.MembersOf(ctx, req.Room)
		if resolveErr == nil && r.cfg.EnforceRoomMembership && !slices.Contains(members, senderID) {
			return r.reject(from, fmt.Errorf("%w: not a member of %s", ErrForbidden, req.Room), req.ClientMsgID)
		}
	}

	var dedupeKey string
	if r.sent != nil && req.ClientMsgID != "" {
		key := senderID + "\x00" + req.ClientMsgID
		prev, reserved := r.sent.Reserve(key)
		if !reserved {
			if prev != nil {
				r.logger.Debug("duplicate send echoed",
					"sender_id", senderID,
					"client_msg_id", req.ClientMsgID,
					"message_id", prev.ID,
				)
				r.pushTo(from, events.MessagePush(events.PushMessageSent, prev))
			} else {
				// The first attempt echoes message_sent to every sender connection.
				r.logger.Debug("duplicate send coalesced with in-flight attempt",
					"sender_id", senderID,
					"client_msg_id", req.ClientMsgID,
				)
			}
			return nil
		}
		dedupeKey = key
	}

	msg := &store.Message{
		SenderID:    senderID,
		RecipientID: req.To,
		GroupID:     req.Room,
		Content:     req.Content,
		ImageURL:    req.ImageURL,
		File:        req.File,
		CreatedAt:   r.now(),
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		if dedupeKey != "" {
			r.sent.Release(dedupeKey)
		}
		r.logger.Error("failed to persist message",
			"sender_id", senderID,
			"recipient_id", req.To,
			"group_id", req.Room,
			"error", err,
		)
		return r.reject(from, fmt.Errorf("%w: %w", ErrStorage, err), req.ClientMsgID)
	}
	msg.Sender = r.profile(ctx, senderID)
	if dedupeKey != "" {
		r.sent.Put(dedupeKey, msg)
	}

	if resolveErr != nil {
		r.logger.Warn("routing aborted after persist",
			"message_id", msg.ID,
			"group_id", msg.GroupID,
			"error", resolveErr,
		)
		return r.reject(from, resolveErr, req.ClientMsgID)
	}

	recipients := members
	if !msg.IsGroup() {
		recipients = []string{msg.RecipientID}
	}
	delivered := r.fanOut(msg, recipients)
	r.logger.Debug("message routed",
		"message_id", msg.ID,
		"sender_id", senderID,
		"type", msg.Type,
		"recipients", len(recipients),
		"delivered", delivered,
	)

	if msg.RecipientID != "" && msg.RecipientID == r.cfg.BotID {
		if r.responder == nil {
			r.pushTo(from, errorPush(fmt.Errorf("%w: no responder configured", ErrAIUnavailable), req.ClientMsgID))
			return nil
		}
		r.startBotTurn(ctx, from, msg, req.ClientMsgID)
	}
	return nil
}

// profile returns the public profile shown with userID's messages, or nil
// if the user cannot be loaded.
func (r *Router) profile(ctx context.Context, userID string) *store.Profile {
	if userID == r.cfg.BotID && r.cfg.BotName != "" {
		return &store.Profile{ID: userID, Name: r.cfg.BotName, Username: r.cfg.BotUsername}
	}
	u, err := r.store.GetUser(ctx, userID)
	if err != nil {
		r.logger.Debug("sender profile unavailable", "user_id", userID, "error", err)
		return nil
	}
	return u.Profile()
}

func validateSend(senderID string, req events.SendMessage) error {
	if senderID == "" {
		return fmt.Errorf("%w: sender is required", ErrInvalidRequest)
	}
	if (req.To == "") == (req.Room == "") {
		return fmt.Errorf("%w: exactly one of recipient or room is required", ErrInvalidRequest)
	}
	hasAttachment := req.ImageURL != "" || (req.File != nil && req.File.URL != "")
	if strings.TrimSpace(req.Content) == "" && !hasAttachment {
		return fmt.Errorf("%w: message content is required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidRequest, MaxContentLength)
	}
	return nil
}

// fanOut pushes receive_message to every recipient's live connections and
// echoes message_sent to all of the sender's connections.
func (r *Router) fanOut(msg *store.Message, recipients []string) int {
	delivered := 0
	receive := events.MessagePush(events.PushReceiveMessage, msg)
	for _, userID := range recipients {
		if userID == msg.SenderID {
			continue
		}
		delivered += r.registry.Push(userID, receive, "")
	}
	r.registry.Push(msg.SenderID, events.MessagePush(events.PushMessageSent, msg), "")
	return delivered
}

// startBotTurn runs the AI leg for a message addressed to the bot.
func (r *Router) startBotTurn(ctx context.Context, from presence.Conn, msg *store.Message, clientMsgID string) {
	senderID := msg.SenderID
	if r.cfg.SingleFlight && !r.acquire(senderID) {
		r.logger.Info("bot turn refused, previous turn in flight", "sender_id", senderID)
		r.pushTo(from, errorPush(ErrAIBusy, clientMsgID))
		return
	}

	r.pushTo(from, events.Push{Name: events.PushAITyping, Data: events.AITyping{IsTyping: true}})

	// The turn outlives the session event that started it.
	turnCtx := context.WithoutCancel(ctx)
	r.turns.Add(1)
	go func() {
		defer r.turns.Done()
		if r.cfg.SingleFlight {
			defer r.release(senderID)
		}
		r.runBotTurn(turnCtx, from, msg, clientMsgID)
	}()
}

// runBotTurn asks the model under the AI timeout, then persists the reply
// under its own deadline so a late answer is still kept.
func (r *Router) runBotTurn(ctx context.Context, from presence.Conn, msg *store.Message, clientMsgID string) {
	start := r.now()
	stopTyping := events.Push{Name: events.PushAITyping, Data: events.AITyping{IsTyping: false}}

	aiCtx, cancelAI := context.WithTimeout(ctx, r.cfg.AITimeout)
	reply, err := r.complete(aiCtx, msg.Content)
	cancelAI()
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		r.logger.Warn("bot turn failed",
			"sender_id", msg.SenderID,
			"message_id", msg.ID,
			"elapsed", time.Since(start),
			"error", err,
		)
		r.pushTo(from, stopTyping)
		r.pushTo(from, errorPush(fmt.Errorf("%w: %w", ErrAIUnavailable, err), clientMsgID))
		return
	}

	botMsg := &store.Message{
		SenderID:    r.cfg.BotID,
		RecipientID: msg.SenderID,
		Content:     reply,
		CreatedAt:   r.now(),
	}
	writeCtx, cancelWrite := context.WithTimeout(ctx, replyWriteTimeout)
	err = r.store.CreateMessage(writeCtx, botMsg)
	cancelWrite()
	if err != nil {
		r.logger.Error("failed to persist bot reply", "sender_id", msg.SenderID, "error", err)
		r.pushTo(from, stopTyping)
		r.pushTo(from, errorPush(fmt.Errorf("%w: %w", ErrAIUnavailable, err), clientMsgID))
		return
	}
	botMsg.Sender = r.profile(ctx, r.cfg.BotID)

	r.registry.Push(msg.SenderID, events.MessagePush(events.PushReceiveMessage, botMsg), "")
	r.pushTo(from, stopTyping)
	r.logger.Info("bot replied",
		"sender_id", msg.SenderID,
		"message_id", botMsg.ID,
		"elapsed", time.Since(start),
	)
}

// complete calls the responder but never waits past ctx, even if the
// responder ignores cancellation.
func (r *Router) complete(ctx context.Context, prompt string) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := r.responder.Complete(ctx, prompt)
		done <- result{text: text, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Router) acquire(senderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[senderID]; busy {
		return false
	}
	r.inflight[senderID] = struct{}{}
	return true
}

func (r *Router) release(senderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, senderID)
}

// HandleTyping relays a typing indicator to a direct peer or a joined room.
func (r *Router) HandleTyping(from presence.Conn, senderID string, req events.Typing) error {
	if (req.To == "") == (req.Room == "") {
		return fmt.Errorf("%w: exactly one of recipient or room is required", ErrInvalidRequest)
	}
	ev := events.Push{
		Name: events.PushUserTyping,
		Data: events.UserTyping{UserID: senderID, RoomID: req.Room, IsTyping: req.IsTyping},
	}
	if req.Room != "" {
		r.rooms.Push(req.Room, ev, from.ID())
		return nil
	}
	if req.To != r.cfg.BotID {
		r.registry.Push(req.To, ev, "")
	}
	return nil
}

// Wait blocks until every running bot turn has finished or ctx is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) reject(from presence.Conn, err error, clientMsgID string) error {
	r.pushTo(from, errorPush(err, clientMsgID))
	return err
}

// pushTo delivers to a single connection; closed connections are ignored.
func (r *Router) pushTo(conn presence.Conn, ev events.Push) {
	if conn == nil {
		return
	}
	if err := conn.Push(ev); err != nil {
		r.logger.Debug("push to originating connection dropped",
			"conn_id", conn.ID(),
			"event", ev.Name,
			"error", err,
		)
	}
}
