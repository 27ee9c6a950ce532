package keystore

import "errors"

// Keystore errors.
var (
	// ErrCorrupt is returned when a persisted file fails authentication or decoding.
	ErrCorrupt = errors.New("keystore: corrupt store")

	// ErrNoSecret is returned when a sealed store is opened without a secret.
	ErrNoSecret = errors.New("keystore: secret required")

	// ErrUnknownBackend is returned for an unsupported backend name.
	ErrUnknownBackend = errors.New("keystore: unknown backend")

	// ErrClosed is returned when a closed store is used.
	ErrClosed = errors.New("keystore: closed")
)
