package config

import "errors"

// Configuration errors.
var (
	// ErrNoTransports is returned when no transport is enabled.
	ErrNoTransports = errors.New("config: no transport enabled")

	// ErrInvalidDeviceID is returned when device_id is not 32 hex digits.
	ErrInvalidDeviceID = errors.New("config: device_id must be 16 bytes of hex")

	// ErrMissingAddress is returned for an enabled transport without an
	// address and without a cloud url to derive one from.
	ErrMissingAddress = errors.New("config: transport address required")

	// ErrMissingPhone is returned when SMS is enabled without a phone
	// number.
	ErrMissingPhone = errors.New("config: sms phone number required")

	// ErrInvalidKeepAlive is returned for a keep-alive outside 5s..2h.
	ErrInvalidKeepAlive = errors.New("config: keep_alive out of range")

	// ErrInvalidLogLevel is returned for an unknown log level.
	ErrInvalidLogLevel = errors.New("config: unknown log level")

	// ErrInvalidBackend is returned for an unknown keystore backend.
	ErrInvalidBackend = errors.New("config: unknown keystore backend")

	// ErrMissingPath is returned for a persistent keystore without a path.
	ErrMissingPath = errors.New("config: keystore path required")

	// ErrEncryptionUnsupported is returned when encryption is enabled but
	// neither UDP nor SMS is.
	ErrEncryptionUnsupported = errors.New("config: encryption needs udp or sms")
)
