package encryption

import "errors"

// Encryption engine errors.
var (
	// ErrNoProvider is returned when an engine is created without a Provider.
	ErrNoProvider = errors.New("encryption: provider required")

	// ErrNoKey is returned when an operation requires a valid current key.
	ErrNoKey = errors.New("encryption: no valid key")

	// ErrInvalidKey is returned when a key has the wrong length.
	ErrInvalidKey = errors.New("encryption: invalid key length")

	// ErrAuthFailure is returned when a message fails authentication under
	// both the current and the previous key.
	ErrAuthFailure = errors.New("encryption: authentication failed")

	// ErrReplay is returned when a cloud request id was already seen under
	// the current key.
	ErrReplay = errors.New("encryption: replayed request")

	// ErrStore is returned when persisting encryption data fails.
	ErrStore = errors.New("encryption: store failed")

	// ErrNotFound is returned by a Store when no record exists.
	ErrNotFound = errors.New("encryption: record not found")

	// ErrSizeMismatch is returned when a loaded record has an unexpected length.
	ErrSizeMismatch = errors.New("encryption: record size mismatch")

	// ErrNoDeviceID is returned when no device id is configured or persisted.
	ErrNoDeviceID = errors.New("encryption: no device id")

	// ErrTagGeneration is returned when the key self-test fails.
	ErrTagGeneration = errors.New("encryption: unable to generate tag")

	// ErrRekeyRequired is returned when the request id space of an
	// encrypting transport is used up under the current key.
	ErrRekeyRequired = errors.New("encryption: request ids exhausted, rekey required")

	// ErrUpdateInProgress is returned when a key update is already staged.
	ErrUpdateInProgress = errors.New("encryption: key update in progress")

	// ErrUpdateDone is returned when a finished key update is used again.
	ErrUpdateDone = errors.New("encryption: key update already finished")

	// ErrUnknownClass is returned for a transport class the engine does not track.
	ErrUnknownClass = errors.New("encryption: transport class not tracked")
)
