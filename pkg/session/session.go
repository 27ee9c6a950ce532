package session

import (
	"fmt"
	"time"

	"github.com/backkem/cloudconnector/pkg/transport"
)

// Session is one request/response exchange on a transport.
//
// Identity fields are fixed at creation. State changes only through the
// Manager.
type Session struct {
	table *Table

	kind             transport.Kind
	requestID        uint16
	serviceID        uint8
	origin           Origin
	responseRequired bool

	// UserContext belongs to the caller that opened the session.
	UserContext any

	// ServiceContext belongs to the owning facility. It is dropped after
	// the facility's free callback.
	ServiceContext any

	// Guarded by table.mu.
	state       State
	outcome     Outcome
	deadline    time.Time
	busy        int
	freePending bool
}

// Kind returns the transport the session runs on.
func (s *Session) Kind() transport.Kind { return s.kind }

// RequestID returns the wire request id.
func (s *Session) RequestID() uint16 { return s.requestID }

// ServiceID returns the id of the owning facility.
func (s *Session) ServiceID() uint8 { return s.serviceID }

// Origin returns which side opened the session.
func (s *Session) Origin() Origin { return s.origin }

// ResponseRequired reports whether the request expects a response.
func (s *Session) ResponseRequired() bool { return s.responseRequired }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.table.mu.RLock()
	defer s.table.mu.RUnlock()
	return s.state
}

// Outcome returns how the exchange ended. Only meaningful once the
// session reached StateCompleting.
func (s *Session) Outcome() Outcome {
	s.table.mu.RLock()
	defer s.table.mu.RUnlock()
	return s.outcome
}

// Deadline returns the session deadline. The zero time means no deadline.
func (s *Session) Deadline() time.Time {
	s.table.mu.RLock()
	defer s.table.mu.RUnlock()
	return s.deadline
}

// IsLive reports whether the session still accepts traffic.
func (s *Session) IsLive() bool {
	return !s.State().IsTerminal()
}

// String returns a short description for logs.
func (s *Session) String() string {
	return fmt.Sprintf("%s/%s#%d(svc %d)", s.kind, s.origin, s.requestID, s.serviceID)
}
