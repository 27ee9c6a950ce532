package transport

import "github.com/backkem/cloudconnector/pkg/crypto"

// Kind identifies one of the agent's transports to the cloud.
type Kind int

const (
	// KindUnknown is the zero value for an unknown transport.
	KindUnknown Kind = iota
	// KindTCP is the primary, full-featured session.
	KindTCP
	// KindUDP carries short messages over UDP datagrams.
	KindUDP
	// KindSMS carries short messages as SMS text.
	KindSMS
)

// Kinds lists every valid transport kind.
var Kinds = []Kind{KindTCP, KindUDP, KindSMS}

// String returns the string representation of the transport kind.
func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindSMS:
		return "sms"
	default:
		return "unknown"
	}
}

// IsValid returns true if the transport kind is a known valid kind.
func (k Kind) IsValid() bool {
	return k == KindTCP || k == KindUDP || k == KindSMS
}

// IsShortMessage reports whether the transport carries short-message
// framing on an unreliable medium.
func (k Kind) IsShortMessage() bool {
	return k == KindUDP || k == KindSMS
}

// Class returns the wire transport class used in IVs and store keys.
func (k Kind) Class() crypto.TransportClass {
	switch k {
	case KindUDP:
		return crypto.ClassUDP
	case KindSMS:
		return crypto.ClassSMS
	default:
		return crypto.ClassEDP
	}
}

// ParseKind returns the kind named by s ("tcp", "udp" or "sms").
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUnknown, ErrUnknownKind
}

// State is a transport lifecycle state.
type State int

const (
	// StateIdle means the transport is not connected.
	StateIdle State = iota
	// StateOpen means the transport is connected and quiescent.
	StateOpen
	// StateSend means a message is being written.
	StateSend
	// StateReceive means a message is being read.
	StateReceive
	// StateClose means the transport is shutting down.
	StateClose
	// StateTerminate means the transport stopped and will not reconnect.
	StateTerminate
	// StateRedirect means the transport is reconnecting to a new address.
	StateRedirect
	// StateWaitForReconnect means the transport waits out the reconnect delay.
	StateWaitForReconnect
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateSend:
		return "send"
	case StateReceive:
		return "receive"
	case StateClose:
		return "close"
	case StateTerminate:
		return "terminate"
	case StateRedirect:
		return "redirect"
	case StateWaitForReconnect:
		return "wait-for-reconnect"
	default:
		return "unknown"
	}
}

// IsValid returns true if the state is a defined value.
func (s State) IsValid() bool {
	return s >= StateIdle && s <= StateWaitForReconnect
}

// IsActive reports whether sessions may be opened in this state.
func (s State) IsActive() bool {
	return s == StateOpen || s == StateSend || s == StateReceive
}
