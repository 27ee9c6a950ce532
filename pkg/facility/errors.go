package facility

import "errors"

// Facility package errors.
var (
	// ErrBadCommand is returned when traffic arrives for a service id no
	// facility is registered for. It fails stream transports; short
	// message units carrying it are dropped.
	ErrBadCommand = errors.New("facility: unknown service id")

	// ErrAlreadyRegistered is returned when a second facility registers
	// for the same service id.
	ErrAlreadyRegistered = errors.New("facility: service id already registered")

	// ErrDataError is returned when a facility rejects the data of an
	// exchange. It wraps the facility's reason.
	ErrDataError = errors.New("facility: data error")

	// ErrAborted is returned by a facility that gives up on an exchange.
	ErrAborted = errors.New("facility: aborted")

	// ErrUnrecognized is returned by a facility for data it cannot parse.
	ErrUnrecognized = errors.New("facility: unrecognized data")

	// ErrPending is returned from OnNeedData when the facility has nothing
	// to send yet. The dispatch is retried on a later step.
	ErrPending = errors.New("facility: data pending")

	// ErrNoCapabilities is returned by facilities that do not advertise
	// anything.
	ErrNoCapabilities = errors.New("facility: no capabilities")

	// ErrInvalidShape is returned for an undefined shape or a shape that
	// needs a session when none was given.
	ErrInvalidShape = errors.New("facility: invalid shape")
)
