package cli

import "errors"

// CLI service errors.
var (
	// ErrEmptyCommand is returned for a request without a command line.
	ErrEmptyCommand = errors.New("cli: empty command")

	// ErrRequestTooLong is returned when a request exceeds MaxRequest.
	ErrRequestTooLong = errors.New("cli: request too long")

	// ErrCommandTimeout is the result of a command that ran past Timeout.
	ErrCommandTimeout = errors.New("cli: command timed out")

	// ErrNoJob is returned when a response is requested for a session
	// that never received a complete command.
	ErrNoJob = errors.New("cli: no command for session")

	// ErrUnsupported is returned by the shell runner on platforms without
	// process groups.
	ErrUnsupported = errors.New("cli: shell runner not supported on this platform")
)
