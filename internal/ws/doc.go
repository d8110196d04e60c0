// Package ws is the WebSocket transport of the gateway.
//
// Each upgraded connection gets a Conn, which implements presence.Conn with
// a bounded outbound queue drained by a writer goroutine, and a chat.Session
// fed by the reader loop. Frames are JSON objects of the form
//
//	{"event": "send_message", "data": {...}}
//
// The codec accepts the legacy event names (user_connected, join_group) and
// both receiverId and recipientId for a direct target. Everything past the
// codec sees the canonical events types.
package ws
