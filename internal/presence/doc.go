// Package presence tracks which users have live connections.
//
// The Registry maps a user to the set of connections currently bound to
// that user and reports online/offline transitions: a user becomes online
// when the first connection registers and offline when the last one is
// removed. Everything lives in memory; the persisted is_online flag in the
// store is only a mirror updated by the caller.
//
// Pushes are non-blocking. A Conn implementation must queue or drop rather
// than wait, because the registry delivers while holding its read lock.
package presence
