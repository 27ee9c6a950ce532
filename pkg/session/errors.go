package session

import "errors"

// Session package errors.
var (
	// ErrBusy is returned when a transport already holds its maximum
	// number of sessions.
	ErrBusy = errors.New("session: too many sessions")

	// ErrTransportInactive is returned when a session is opened on a
	// transport that is not connected.
	ErrTransportInactive = errors.New("session: transport not active")

	// ErrTimeout is reported to the owning facility when a session's
	// deadline passes.
	ErrTimeout = errors.New("session: timed out")

	// ErrCancelled is reported when a session is cancelled.
	ErrCancelled = errors.New("session: cancelled")

	// ErrDuplicateRequest is returned when a request id is still held by
	// another session.
	ErrDuplicateRequest = errors.New("session: request id in use")

	// ErrInvalidRequestID is returned for request ids outside the 10-bit
	// space or equal to InvalidRequestID.
	ErrInvalidRequestID = errors.New("session: invalid request id")

	// ErrIDExhausted is returned when every request id is in use.
	ErrIDExhausted = errors.New("session: request id space exhausted")

	// ErrSessionClosed is returned for operations on a session that already
	// reached a terminal state.
	ErrSessionClosed = errors.New("session: session closed")

	// ErrInvalidTransport is returned for an unknown transport kind.
	ErrInvalidTransport = errors.New("session: invalid transport")
)
