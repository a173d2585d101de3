package services

import (
	"errors"
	"fmt"

	"telecare/internal/store"
)

// Authorization errors
var (
	ErrNotParticipant = errors.New("not a participant")
	ErrNotReceiver    = errors.New("only the receiver can mark a message as read")
	ErrNotInitiator   = errors.New("only the initiator can cancel a call")
)

// Not-found errors
var (
	ErrThreadNotFound     = errors.New("chat thread not found")
	ErrCallNotFound       = errors.New("call session not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrTargetNotConnected = errors.New("target connection is not in the call")
)

// State errors
var (
	ErrCallNotJoinable = errors.New("call has ended")
	ErrCallNotPending  = errors.New("call is no longer pending")
)

// ErrUnavailable wraps persistence failures; the client may retry
var ErrUnavailable = errors.New("storage unavailable")

// Bad request errors
var (
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrInvalidParticipant = errors.New("invalid participant")
)

// Wire error codes
const (
	CodeForbidden   = "forbidden"
	CodeNotFound    = "not_found"
	CodeCallEnded   = "call_ended"
	CodeConflict    = "conflict"
	CodeUnavailable = "unavailable"
	CodeBadRequest  = "bad_request"
	CodeInternal    = "internal"
)

// Classify maps an error onto a wire error code and whether retrying can help
func Classify(err error) (code string, retryable bool) {
	switch {
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrNotReceiver), errors.Is(err, ErrNotInitiator):
		return CodeForbidden, false
	case errors.Is(err, ErrThreadNotFound), errors.Is(err, ErrCallNotFound),
		errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrTargetNotConnected):
		return CodeNotFound, false
	case errors.Is(err, ErrCallNotJoinable):
		return CodeCallEnded, false
	case errors.Is(err, ErrCallNotPending):
		return CodeConflict, false
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable, true
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrInvalidParticipant):
		return CodeBadRequest, false
	default:
		return CodeInternal, false
	}
}

// storeError translates a store failure. A missing record becomes notFound,
// anything else is reported as unavailable.
func storeError(err error, notFound error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}
