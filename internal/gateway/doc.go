// Package gateway orchestrates the mulchat-gateway server components.
//
// # Overview
//
// The Gateway owns the store, the presence registry, the chat router and
// lifecycle, the AI responder and the servers that expose them:
//
//   - HTTP on server.http_addr: /ws (WebSocket chat), /api/... (accounts,
//     history and groups), /health and /health/ready
//   - gRPC on server.grpc_addr: the standard grpc.health.v1 service
//
// # Startup
//
// New opens the SQLite store, marks every user offline (live presence is
// rebuilt as clients reconnect) and makes sure the bot's user row exists.
//
// # Shutdown
//
// Shutdown stops accepting HTTP requests, closes every WebSocket so sessions
// run their disconnect cleanup, waits for in-flight bot turns, stops gRPC and
// finally closes the store.
//
// # HTTP API
//
//	POST   /api/auth/register              create an account, returns a token
//	POST   /api/auth/login                 email or username + password
//	GET    /api/auth/me                    the caller
//	GET    /api/users                      everyone else, with live online flags
//	GET    /api/messages/conversation/{id} direct history with a user
//	GET    /api/messages/group/{id}        group history, members only
//	POST   /api/messages/{id}/read         mark a message read
//	POST   /api/groups                     create a group
//	GET    /api/groups/mine                groups the caller belongs to
//	POST   /api/groups/{id}/members        add a member
//	DELETE /api/groups/{id}                delete a group, creator only
//
// All /api routes except register and login require a bearer token. When no
// jwt_secret is configured the gateway runs in anonymous mode and trusts the
// X-User-ID header instead, as the WebSocket trusts identify.
package gateway
