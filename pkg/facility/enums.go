// Package facility routes short-message session traffic to the service
// registered for the session's service id.
//
// A Facility implements one service (ping, CLI, key exchange, ...). The
// Dispatcher calls it with one of five message shapes:
//
//	ShapeCapabilities  build the capability advertisement for a transport
//	ShapeHaveData      a chunk arrived for the session
//	ShapeNeedData      the transport can send; the facility fills a chunk
//	ShapeError         the session failed (timeout, auth failure, cloud error)
//	ShapeFree          the session is being released
//
// The Dispatcher implements session.Notifier, so timeouts, cancellations
// and frees raised by the session manager reach the owning facility.
package facility

// Shape is the kind of callback a dispatch performs.
type Shape int

const (
	// ShapeCapabilities asks for the capability advertisement.
	ShapeCapabilities Shape = iota
	// ShapeHaveData delivers an inbound chunk.
	ShapeHaveData
	// ShapeNeedData asks for an outbound chunk.
	ShapeNeedData
	// ShapeError reports a session error.
	ShapeError
	// ShapeFree releases the session's service state.
	ShapeFree
)

// String returns a human-readable name for the shape.
func (s Shape) String() string {
	switch s {
	case ShapeCapabilities:
		return "capabilities"
	case ShapeHaveData:
		return "have_data"
	case ShapeNeedData:
		return "need_data"
	case ShapeError:
		return "error"
	case ShapeFree:
		return "free"
	default:
		return "unknown"
	}
}

// IsValid returns true if the shape is a defined value.
func (s Shape) IsValid() bool {
	return s >= ShapeCapabilities && s <= ShapeFree
}

// Status is how a device-initiated request ended, as reported to the
// application.
type Status int

const (
	// StatusSuccess means the cloud answered.
	StatusSuccess Status = iota
	// StatusComplete means the request was sent and no answer was asked for.
	StatusComplete
	// StatusCancel means the request was cancelled by the device.
	StatusCancel
	// StatusTimeout means no answer arrived before the deadline.
	StatusTimeout
	// StatusError means the exchange failed.
	StatusError
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusComplete:
		return "complete"
	case StatusCancel:
		return "cancel"
	case StatusTimeout:
		return "timeout"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// IsValid returns true if the status is a defined value.
func (s Status) IsValid() bool {
	return s >= StatusSuccess && s <= StatusError
}
