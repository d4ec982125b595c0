package bridge

import "errors"

var (
	// ErrStreamClosed is returned by Run when the chunk source closes.
	ErrStreamClosed = errors.New("bridge: stream closed")

	// ErrInvalidRemoteInput is returned for malformed remote input messages.
	ErrInvalidRemoteInput = errors.New("bridge: invalid remote input")
)
