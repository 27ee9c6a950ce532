package smconfig

import "errors"

// Configuration service errors.
var (
	// ErrInvalidOpcode is returned for a request opcode the service does
	// not handle.
	ErrInvalidOpcode = errors.New("smconfig: invalid opcode")

	// ErrShortKeySet is returned for a KEY_SET without a full key.
	ErrShortKeySet = errors.New("smconfig: key set too short")

	// ErrEncryptionUnsupported is returned for a KEY_SET when the device
	// has no encryption engine.
	ErrEncryptionUnsupported = errors.New("smconfig: encryption not supported")

	// ErrNoResponse is returned when a response is requested for a session
	// that has nothing to answer.
	ErrNoResponse = errors.New("smconfig: no response for session")
)

// Reasons carried by KEY_ERROR.
const (
	reasonStoreKey    = "unable to store key"
	reasonGenerateTag = "unable to generate tag"
)
