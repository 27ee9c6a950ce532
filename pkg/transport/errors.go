package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed link.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidAddress is returned when a peer address cannot be resolved.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrNotConnected is returned by Send before Connect succeeded.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnected is returned when Connect is called on a
	// connected link.
	ErrAlreadyConnected = errors.New("transport: already connected")

	// ErrUnknownKind is returned when a transport name is not tcp, udp or sms.
	ErrUnknownKind = errors.New("transport: unknown transport kind")

	// ErrMessageTooLarge is returned when a unit exceeds the link's size.
	ErrMessageTooLarge = errors.New("transport: message too large")

	// ErrInvalidPayload is returned when a unit cannot be carried by the
	// link, such as SMS text containing a line break.
	ErrInvalidPayload = errors.New("transport: invalid payload")

	// ErrInvalidState is returned when a lifecycle transition is not
	// allowed in the current state.
	ErrInvalidState = errors.New("transport: invalid state transition")

	// ErrNoRedirect is returned when the link cannot change its address.
	ErrNoRedirect = errors.New("transport: link does not support redirect")

	// ErrLinkDown is returned by Receive after the peer closed the stream
	// or the read loop failed. It wraps the cause.
	ErrLinkDown = errors.New("transport: link down")

	// ErrNotConfigured is returned for a transport kind without a
	// lifecycle.
	ErrNotConfigured = errors.New("transport: not configured")
)
