// ABOUTME: Error taxonomy for the chat core and its mapping to message_error pushes
// ABOUTME: Every failed request is reported once to the originating connection

package chat

import (
	"errors"

	"github.com/2389/mulchat-gateway/internal/events"
)

var (
	// ErrInvalidRequest is returned for malformed input such as an empty body.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRoomNotFound is returned when a group does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrStorage is returned when persisting a message fails.
	ErrStorage = errors.New("storage error")
	// ErrAIUnavailable is returned when the bot could not answer.
	ErrAIUnavailable = errors.New("ai unavailable")
	// ErrAIBusy is returned when the sender already has a bot turn in flight.
	ErrAIBusy = errors.New("ai busy")
	// ErrForbidden is returned when an identity may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrNotIdentified is returned for events that arrive before identify.
	ErrNotIdentified = errors.New("connection not identified")
)

// errorCode maps an error to the code sent in message_error.
func errorCode(err error) events.ErrorCode {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return events.CodeInvalidRequest
	case errors.Is(err, ErrNotIdentified):
		return events.CodeNotIdentified
	case errors.Is(err, ErrForbidden):
		return events.CodeForbidden
	case errors.Is(err, ErrRoomNotFound):
		return events.CodeRoomNotFound
	case errors.Is(err, ErrAIBusy):
		return events.CodeAIBusy
	case errors.Is(err, ErrAIUnavailable):
		return events.CodeAIUnavailable
	default:
		return events.CodeStorage
	}
}

// errorText is the human readable message shown to the user.
// Storage details never leave the server.
func errorText(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrForbidden):
		return err.Error()
	case errors.Is(err, ErrNotIdentified):
		return "Identify before sending events"
	case errors.Is(err, ErrRoomNotFound):
		return "Group not found"
	case errors.Is(err, ErrAIBusy):
		return "AI is still answering your previous message"
	case errors.Is(err, ErrAIUnavailable):
		return "AI is busy, try again later."
	default:
		return "Message failed to send"
	}
}

// errorPush builds the single message_error notification for err.
func errorPush(err error, clientMsgID string) events.Push {
	return events.ErrorPush(errorCode(err), errorText(err), clientMsgID)
}
