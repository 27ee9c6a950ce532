package facility

import (
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
)

// Facility is a short-message service.
//
// All callbacks run on the connector's step goroutine, one at a time.
type Facility interface {
	// ServiceID returns the command value the facility serves.
	ServiceID() uint8

	// Capabilities returns the capability advertisement for kind, or
	// ErrNoCapabilities.
	Capabilities(kind transport.Kind) ([]byte, error)

	// OnData handles an inbound chunk. Returning an error wrapping
	// ErrAborted or ErrUnrecognized fails the exchange.
	OnData(s *session.Session, c *message.Chunk) error

	// OnNeedData fills c with the next outbound chunk, including its
	// start/last flags. Returning ErrPending defers the send.
	OnNeedData(s *session.Session, c *message.Chunk) error

	// OnError reports a session error. The session is freed afterwards.
	OnError(s *session.Session, err error)

	// OnFree releases the facility's state for s.
	OnFree(s *session.Session)
}

// Base provides no-op callbacks. Facilities embed it and override what
// they handle.
type Base struct {
	ID uint8
}

// ServiceID returns b.ID.
func (b Base) ServiceID() uint8 { return b.ID }

// Capabilities returns ErrNoCapabilities.
func (Base) Capabilities(transport.Kind) ([]byte, error) { return nil, ErrNoCapabilities }

// OnData discards the chunk.
func (Base) OnData(*session.Session, *message.Chunk) error { return nil }

// OnNeedData sends an empty single-chunk message.
func (Base) OnNeedData(_ *session.Session, c *message.Chunk) error {
	c.Flags = message.FlagStart | message.FlagLast
	c.Payload = nil
	return nil
}

// OnError does nothing.
func (Base) OnError(*session.Session, error) {}

// OnFree does nothing.
func (Base) OnFree(*session.Session) {}
