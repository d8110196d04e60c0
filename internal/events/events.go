// ABOUTME: Event vocabulary shared by the transport, the presence registry and the router
// ABOUTME: Inbound events are an explicit enum; outbound pushes are named payloads

package events

import (
	"github.com/2389/mulchat-gateway/internal/store"
)

// Kind identifies an inbound connection event
type Kind int

const (
	KindIdentify Kind = iota
	KindJoinRoom
	KindLeaveRoom
	KindSendMessage
	KindTyping
	KindDisconnect
)

// String returns the wire name of the event kind
func (k Kind) String() string {
	switch k {
	case KindIdentify:
		return "identify"
	case KindJoinRoom:
		return "join_room"
	case KindLeaveRoom:
		return "leave_room"
	case KindSendMessage:
		return "send_message"
	case KindTyping:
		return "typing"
	case KindDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Inbound is one event read from a client connection.
// Only the field matching Kind is populated.
type Inbound struct {
	Kind   Kind
	UserID string       // KindIdentify
	RoomID string       // KindJoinRoom, KindLeaveRoom
	Send   *SendMessage // KindSendMessage
	Typing *Typing      // KindTyping
}

// SendMessage asks the router to deliver a message to exactly one of To or Room
type SendMessage struct {
	To          string
	Room        string
	Content     string
	ImageURL    string
	File        *store.Attachment
	ClientMsgID string
}

// Typing relays a typing indicator to a direct peer or a room
type Typing struct {
	To       string
	Room     string
	IsTyping bool
}

// Push event names
const (
	PushReceiveMessage    = "receive_message"
	PushMessageSent       = "message_sent"
	PushAITyping          = "ai_typing"
	PushMessageError      = "message_error"
	PushUserStatusChanged = "user_status_changed"
	PushUsersUpdated      = "users_updated"
	PushUserTyping        = "user_typing"
)

// Push is an outbound event delivered to a live connection
type Push struct {
	Name string
	Data any
}

// ErrorCode classifies a message_error push
type ErrorCode string

const (
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeNotIdentified  ErrorCode = "not_identified"
	CodeForbidden      ErrorCode = "forbidden"
	CodeRoomNotFound   ErrorCode = "room_not_found"
	CodeStorage        ErrorCode = "storage_error"
	CodeAIUnavailable  ErrorCode = "ai_unavailable"
	CodeAIBusy         ErrorCode = "ai_busy"
)

// AITyping toggles the bot typing indicator
type AITyping struct {
	IsTyping bool `json:"isTyping"`
}

// MessageError reports a failed request to the originating connection
type MessageError struct {
	Code        ErrorCode `json:"code"`
	Error       string    `json:"error"`
	ClientMsgID string    `json:"clientMsgId,omitempty"`
}

// UserStatus announces a presence transition
type UserStatus struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// UsersUpdated lists every online user after a transition
type UsersUpdated struct {
	UserIDs []string `json:"userIds"`
}

// UserTyping relays a peer's typing indicator
type UserTyping struct {
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// MessagePush wraps a persisted message for delivery under the given name
func MessagePush(name string, msg *store.Message) Push {
	return Push{Name: name, Data: msg}
}

// ErrorPush builds a message_error push
func ErrorPush(code ErrorCode, text, clientMsgID string) Push {
	return Push{Name: PushMessageError, Data: MessageError{Code: code, Error: text, ClientMsgID: clientMsgID}}
}
