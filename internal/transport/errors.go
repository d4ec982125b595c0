package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrInvalidURL is returned when a link URL cannot be parsed.
	ErrInvalidURL = errors.New("transport: invalid link url")

	// ErrConnectionFailed is returned when the link cannot be opened.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrNotConnected is returned when writing while the link is down.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrNotWritable is returned when writing to a receive-only link.
	ErrNotWritable = errors.New("transport: link is receive-only")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")
)
