// Package store provides persistent storage for the chat gateway using SQLite.
//
// # Architecture
//
// SQLiteStore implements every persistence concern in a single struct:
//
//   - Users: accounts, the bot row, and the persisted presence mirror
//     (is_online, last_seen)
//   - Groups: group rows and their member lists with roles
//   - Messages: direct and group messages with attachment references and
//     read tracking
//
// The realtime core only sees a narrow slice of this (see chat.Store); the
// HTTP collaborators use the rest.
//
// # Data Models
//
//   - User: a chat account; the AI bot is a regular row
//   - Group: a named set of members (admin, moderator, member)
//   - Message: exactly one of RecipientID or GroupID is set
//
// # Timestamps
//
// Timestamps are stored as fixed-width UTC strings so that lexical order in
// SQLite matches chronological order.
//
// # Testing
//
// MockStore is an in-memory implementation of the core-facing methods with
// injectable failures, used by the chat package tests.
package store
