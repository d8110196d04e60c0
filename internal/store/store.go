// ABOUTME: Store data types and sentinel errors for mulchat persistence
// ABOUTME: Defines User, Group, Message and the message type derivation rules

package store

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique field (username, email) is already taken
var ErrDuplicate = errors.New("already exists")

// ErrAlreadyMember is returned when adding a user that is already in the group
var ErrAlreadyMember = errors.New("user already in group")

// timeLayout is fixed width so string comparison in SQL follows time order
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// User is a chat account. The AI bot is stored as a regular user.
type User struct {
	ID           string
	Name         string
	Username     string
	Email        string
	PasswordHash string
	IsOnline     bool
	LastSeen     time.Time
	Avatar       string
	Bio          string
	CreatedAt    time.Time
}

// GroupRole is the role of a member inside a group
type GroupRole string

const (
	GroupRoleAdmin     GroupRole = "admin"
	GroupRoleModerator GroupRole = "moderator"
	GroupRoleMember    GroupRole = "member"
)

// GroupMember links a user to a group
type GroupMember struct {
	UserID   string
	Role     GroupRole
	JoinedAt time.Time
}

// Group is a named set of members that messages can be addressed to
type Group struct {
	ID          string
	Name        string
	Description string
	Avatar      string
	CreatorID   string
	IsPrivate   bool
	IsOfficial  bool
	Members     []GroupMember
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasMember reports whether userID is in the group's member list
func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// MessageType classifies a message for rendering and history queries
type MessageType string

const (
	MessageTypeDirect MessageType = "direct"
	MessageTypeGroup  MessageType = "group"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
)

// Attachment references an uploaded file. Upload handling lives elsewhere;
// the store only records where the file can be fetched.
type Attachment struct {
	Filename     string
	OriginalName string
	MimeType     string
	Size         int64
	URL          string
}

// ReadReceipt records that a group member has read a message
type ReadReceipt struct {
	UserID string
	ReadAt time.Time
}

// Message is a single direct or group message.
// Exactly one of RecipientID and GroupID is set.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	GroupID     string
	Type        MessageType
	Content     string
	ImageURL    string
	File        *Attachment
	IsRead      bool
	ReadAt      *time.Time
	ReadBy      []ReadReceipt
	CreatedAt   time.Time

	// Sender is filled for delivery and history; it is not stored with the message.
	Sender *Profile
}

// Profile is the public part of a user shown next to their messages
type Profile struct {
	ID       string
	Name     string
	Username string
	Avatar   string
}

// Profile returns the user's public profile
func (u *User) Profile() *Profile {
	return &Profile{ID: u.ID, Name: u.Name, Username: u.Username, Avatar: u.Avatar}
}

// IsGroup reports whether the message is addressed to a group
func (m *Message) IsGroup() bool {
	return m.GroupID != ""
}

// HasAttachment reports whether the message carries an image or file reference
func (m *Message) HasAttachment() bool {
	return m.ImageURL != "" || (m.File != nil && m.File.URL != "")
}

// DeriveMessageType picks the stored type: image and file attachments win over
// the direct/group scope.
func DeriveMessageType(m *Message) MessageType {
	if m.ImageURL != "" || (m.File != nil && strings.HasPrefix(m.File.MimeType, "image/")) {
		return MessageTypeImage
	}
	if m.File != nil && m.File.URL != "" {
		return MessageTypeFile
	}
	if m.IsGroup() {
		return MessageTypeGroup
	}
	return MessageTypeDirect
}
