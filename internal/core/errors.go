package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRejected is returned when the handshake credential is missing or wrong.
	ErrAuthRejected = errors.New("auth rejected")
	// ErrUnknownEvent marks a well-formed frame with an unrecognized event tag.
	ErrUnknownEvent = errors.New("unknown event")

	ErrConnectionClosed = errors.New("connection closed")
	ErrStreamNotStarted = errors.New("stream not started")
)

// DecodeError wraps a malformed inbound frame.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode frame: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// InvalidTransitionError is a protocol-valid frame that the session cannot
// accept in its current state.
type InvalidTransitionError struct {
	State State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s in state %s", e.Event, e.State)
}

// SendError reports how far an outbound buffer got before failing.
// Frames already sent are not rolled back.
type SendError struct {
	Sent  int
	Total int
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send chunk %d/%d: %v", e.Sent+1, e.Total, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
