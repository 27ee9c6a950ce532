package connector

import "errors"

// Connector errors.
var (
	// ErrNoTransports is returned when no transport is configured.
	ErrNoTransports = errors.New("connector: no transport configured")

	// ErrLinkRequired is returned for a transport without a link.
	ErrLinkRequired = errors.New("connector: transport link is required")

	// ErrInvalidDeviceID is returned when the device id is not 16 bytes.
	ErrInvalidDeviceID = errors.New("connector: device id must be 16 bytes")

	// ErrDeviceIDRequired is returned when UDP is configured without a
	// device id or an encryption engine to load it from.
	ErrDeviceIDRequired = errors.New("connector: udp requires a device id")

	// ErrInvalidSegments is returned for a segment limit above 255.
	ErrInvalidSegments = errors.New("connector: invalid max segments")

	// ErrNotConfigured is returned for a transport kind without a channel.
	ErrNotConfigured = errors.New("connector: transport not configured")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("connector: already started")

	// ErrNotStarted is returned when an operation requires a running
	// connector.
	ErrNotStarted = errors.New("connector: not started")

	// ErrAlreadyStopped is returned when Stop is called twice.
	ErrAlreadyStopped = errors.New("connector: already stopped")

	// ErrLocked is returned when a runtime setting is changed while the
	// configuration is locked.
	ErrLocked = errors.New("connector: configuration locked")
)
