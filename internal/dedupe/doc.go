// Package dedupe provides a TTL and size bounded cache that remembers the
// result of an operation under a client supplied key.
//
// The chat router uses it to make send_message idempotent: a client that
// retries a send with the same clientMsgId inside the TTL gets the stored
// message echoed back instead of a second persisted copy.
package dedupe
