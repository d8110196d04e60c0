// Package chat is the realtime routing and presence engine.
//
// A Session consumes the inbound events of one connection in order and
// hands them to the Lifecycle (identify, join, leave, disconnect) or the
// Router (send, typing). The Router persists every message before pushing
// it, resolves group members fresh on every send and runs the AI bot turn
// in its own goroutine so a slow model never stalls the connection.
//
// Persistence and the AI model are reached through the narrow Store and
// Responder interfaces; live delivery goes through presence.Registry.
package chat
