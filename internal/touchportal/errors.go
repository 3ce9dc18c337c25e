package touchportal

import "errors"

// Domain errors for the TouchPortal plugin socket.
var (
	// ErrConnectionFailed is returned when the plugin socket cannot be opened
	// or the pair message cannot be sent.
	ErrConnectionFailed = errors.New("touchportal: connection failed")

	// ErrNotConnected is returned when sending on a closed connection.
	ErrNotConnected = errors.New("touchportal: not connected")

	// ErrSendFailed is returned when a message cannot be written.
	ErrSendFailed = errors.New("touchportal: send failed")

	// ErrInvalidMessage is returned when a host message cannot be decoded.
	ErrInvalidMessage = errors.New("touchportal: invalid message")

	// ErrInvalidEntry is returned when an entry description is incomplete.
	ErrInvalidEntry = errors.New("touchportal: invalid entry description")
)
