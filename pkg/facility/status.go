package facility

import "github.com/backkem/cloudconnector/pkg/session"

// StatusOf derives the final status of a device-initiated session from
// its state at free time. answered reports whether the cloud's response
// was received.
func StatusOf(s *session.Session, answered bool) Status {
	switch s.State() {
	case session.StateCancelled:
		return StatusCancel
	case session.StateTimedOut:
		return StatusTimeout
	case session.StateCompleting:
		if s.Outcome() != session.OutcomeSuccess {
			return StatusError
		}
		if answered {
			return StatusSuccess
		}
		if !s.ResponseRequired() {
			return StatusComplete
		}
		return StatusError
	default:
		return StatusError
	}
}
