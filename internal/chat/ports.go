// ABOUTME: Interfaces the chat core consumes from persistence and the AI model
// ABOUTME: Implemented by store.SQLiteStore and the ai package responders

package chat

import (
	"context"
	"time"

	"github.com/2389/mulchat-gateway/internal/store"
)

// Store is the persistence the core needs.
type Store interface {
	// CreateMessage persists msg and assigns its ID.
	CreateMessage(ctx context.Context, msg *store.Message) error
	// GetGroupMembers returns store.ErrNotFound for an unknown group.
	GetGroupMembers(ctx context.Context, groupID string) ([]string, error)
	// SetUserOnline mirrors live presence; failures are logged by callers.
	SetUserOnline(ctx context.Context, userID string, online bool, at time.Time) error
	// GetUser returns store.ErrNotFound for an unknown user.
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Responder produces the bot's reply to a prompt.
type Responder interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var (
	_ Store = (*store.SQLiteStore)(nil)
	_ Store = (*store.MockStore)(nil)
)
