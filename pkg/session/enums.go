// Package session tracks the request/response exchanges multiplexed onto
// each short-message transport.
//
// A Session is identified on the wire by a 10-bit request id. The Manager
// keeps one Table per transport; a table holds the live sessions of both
// directions (device-initiated and cloud-initiated use separate id pools).
//
// A session moves through these states:
//
//	Allocated -> AwaitingResponse -> Completing -> Freed
//	     \              \
//	      +--------------+--> Cancelled / TimedOut -> Freed
//
// A request id is not reused on a transport until its previous holder was
// freed. Sessions that are being dispatched are pinned with Acquire; a
// cancel or timeout that hits a pinned session defers the free until the
// matching Release.
package session

// Origin identifies which side started a session.
type Origin int

const (
	// OriginDevice marks a session the device opened.
	OriginDevice Origin = iota
	// OriginCloud marks a session opened by a cloud request.
	OriginCloud
)

// String returns a human-readable name for the origin.
func (o Origin) String() string {
	switch o {
	case OriginDevice:
		return "device"
	case OriginCloud:
		return "cloud"
	default:
		return "unknown"
	}
}

// IsValid returns true if the origin is a defined value.
func (o Origin) IsValid() bool {
	return o == OriginDevice || o == OriginCloud
}

// State is the lifecycle state of a Session.
type State int

const (
	// StateAllocated is a new session that has not sent its request yet.
	StateAllocated State = iota
	// StateAwaitingResponse is a session whose request was sent and whose
	// response has not arrived.
	StateAwaitingResponse
	// StateCompleting is a session whose exchange finished.
	StateCompleting
	// StateCancelled is a session cancelled by the device.
	StateCancelled
	// StateTimedOut is a session whose deadline passed.
	StateTimedOut
	// StateFreed is a session whose request id was reclaimed.
	StateFreed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateAllocated:
		return "allocated"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateCompleting:
		return "completing"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed-out"
	case StateFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// IsValid returns true if the state is a defined value.
func (s State) IsValid() bool {
	return s >= StateAllocated && s <= StateFreed
}

// IsTerminal reports whether the session no longer accepts traffic.
func (s State) IsTerminal() bool {
	return s >= StateCompleting
}

// Outcome is how a completed exchange ended.
type Outcome int

const (
	// OutcomeSuccess means the exchange finished normally.
	OutcomeSuccess Outcome = iota
	// OutcomeError means the exchange finished with an error.
	OutcomeError
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}
