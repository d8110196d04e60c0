// ABOUTME: Request identity carried through handlers via context
// ABOUTME: Provides WithIdentity/FromContext for authenticated requests

package auth

import (
	"context"
)

// Identity is the authenticated user behind a request.
type Identity struct {
	UserID   string
	Username string
}

type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the Identity in ctx, or nil if the request is anonymous.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
