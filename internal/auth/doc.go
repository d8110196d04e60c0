// Package auth authenticates chat users.
//
// Users log in with a password (bcrypt) and receive an HS256 JWT whose
// "sub" claim is their user ID. The same token authenticates REST calls
// (Authorization: Bearer) and the WebSocket upgrade, where browsers may pass
// it as the token query parameter instead.
//
// When no jwt_secret is configured the gateway runs without a verifier and
// trusts the identify event, which is how the original chat client worked.
package auth
