// ABOUTME: JSON wire codec translating frames to inbound events and pushes to frames
// ABOUTME: Handles legacy event names and receiverId/recipientId aliasing

package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/mulchat-gateway/internal/events"
	"github.com/2389/mulchat-gateway/internal/store"
)

// ErrUnknownEvent is returned for a frame whose event name is not recognized
var ErrUnknownEvent = errors.New("unknown event")

// Frame is the envelope of every message on the socket
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var eventAliases = map[string]events.Kind{
	"identify":       events.KindIdentify,
	"user_connected": events.KindIdentify,
	"join_room":      events.KindJoinRoom,
	"join_group":     events.KindJoinRoom,
	"leave_room":     events.KindLeaveRoom,
	"leave_group":    events.KindLeaveRoom,
	"send_message":   events.KindSendMessage,
	"typing":         events.KindTyping,
	"disconnect":     events.KindDisconnect,
}

// File is the wire form of an attachment
type File struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	Size         int64  `json:"size,omitempty"`
	URL          string `json:"url"`
}

type identifyData struct {
	UserID string `json:"userId"`
}

type roomData struct {
	RoomID  string `json:"roomId"`
	GroupID string `json:"groupId"`
}

type sendData struct {
	SenderID    string `json:"senderId"`
	ReceiverID  string `json:"receiverId"`
	RecipientID string `json:"recipientId"`
	GroupID     string `json:"groupId"`
	RoomID      string `json:"roomId"`
	Content     string `json:"content"`
	ImageURL    string `json:"imageUrl"`
	File        *File  `json:"file"`
	ClientMsgID string `json:"clientMsgId"`
}

type typingData struct {
	ReceiverID  string `json:"receiverId"`
	RecipientID string `json:"recipientId"`
	GroupID     string `json:"groupId"`
	RoomID      string `json:"roomId"`
	IsTyping    bool   `json:"isTyping"`
}

// Decode parses one client frame into an inbound event
func Decode(raw []byte) (events.Inbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return events.Inbound{}, fmt.Errorf("decoding frame: %w", err)
	}
	kind, ok := eventAliases[f.Event]
	if !ok {
		return events.Inbound{}, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}

	ev := events.Inbound{Kind: kind}
	switch kind {
	case events.KindIdentify:
		// The legacy client sends the bare user id string
		if s, ok := bareString(f.Data); ok {
			ev.UserID = s
			break
		}
		var d identifyData
		if err := decodeData(f.Data, &d); err != nil {
			return events.Inbound{}, err
		}
		ev.UserID = d.UserID

	case events.KindJoinRoom, events.KindLeaveRoom:
		if s, ok := bareString(f.Data); ok {
			ev.RoomID = s
			break
		}
		var d roomData
		if err := decodeData(f.Data, &d); err != nil {
			return events.Inbound{}, err
		}
		ev.RoomID = firstNonEmpty(d.RoomID, d.GroupID)

	case events.KindSendMessage:
		var d sendData
		if err := decodeData(f.Data, &d); err != nil {
			return events.Inbound{}, err
		}
		ev.Send = &events.SendMessage{
			To:          firstNonEmpty(d.ReceiverID, d.RecipientID),
			Room:        firstNonEmpty(d.GroupID, d.RoomID),
			Content:     d.Content,
			ImageURL:    d.ImageURL,
			ClientMsgID: d.ClientMsgID,
		}
		if d.File != nil {
			ev.Send.File = &store.Attachment{
				Filename:     d.File.Filename,
				OriginalName: d.File.OriginalName,
				MimeType:     d.File.MimeType,
				Size:         d.File.Size,
				URL:          d.File.URL,
			}
		}

	case events.KindTyping:
		var d typingData
		if err := decodeData(f.Data, &d); err != nil {
			return events.Inbound{}, err
		}
		ev.Typing = &events.Typing{
			To:       firstNonEmpty(d.ReceiverID, d.RecipientID),
			Room:     firstNonEmpty(d.GroupID, d.RoomID),
			IsTyping: d.IsTyping,
		}
	}
	return ev, nil
}

func bareString(data json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding event data: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ReadReceipt is the wire form of a group read receipt
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Sender is the public profile shown with a message
type Sender struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Message is the wire form of a stored message. Direct messages carry the
// target under both receiverId and recipientId.
type Message struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"senderId"`
	Sender      *Sender       `json:"sender,omitempty"`
	ReceiverID  string        `json:"receiverId,omitempty"`
	RecipientID string        `json:"recipientId,omitempty"`
	GroupID     string        `json:"groupId,omitempty"`
	MessageType string        `json:"messageType"`
	Content     string        `json:"content"`
	ImageURL    string        `json:"imageUrl,omitempty"`
	File        *File         `json:"file,omitempty"`
	IsRead      bool          `json:"isRead"`
	ReadAt      *time.Time    `json:"readAt,omitempty"`
	ReadBy      []ReadReceipt `json:"readBy,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// WireMessage converts a stored message to its wire form
func WireMessage(m *store.Message) Message {
	out := Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.RecipientID,
		RecipientID: m.RecipientID,
		GroupID:     m.GroupID,
		MessageType: string(m.Type),
		Content:     m.Content,
		ImageURL:    m.ImageURL,
		IsRead:      m.IsRead,
		ReadAt:      m.ReadAt,
		CreatedAt:   m.CreatedAt,
	}
	if m.Sender != nil {
		out.Sender = &Sender{
			ID:       m.Sender.ID,
			Name:     m.Sender.Name,
			Username: m.Sender.Username,
			Avatar:   m.Sender.Avatar,
		}
	}
	if m.File != nil {
		out.File = &File{
			Filename:     m.File.Filename,
			OriginalName: m.File.OriginalName,
			MimeType:     m.File.MimeType,
			Size:         m.File.Size,
			URL:          m.File.URL,
		}
	}
	for _, r := range m.ReadBy {
		out.ReadBy = append(out.ReadBy, ReadReceipt{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return out
}

// Encode serializes a push into a frame
func Encode(ev events.Push) ([]byte, error) {
	data := ev.Data
	if m, ok := data.(*store.Message); ok {
		data = WireMessage(m)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", ev.Name, err)
	}
	return json.Marshal(Frame{Event: ev.Name, Data: payload})
}
