package connector

// State is the lifecycle state of a Connector.
type State int

const (
	// StateInitialized means the connector is created but not started.
	StateInitialized State = iota

	// StateRunning means Start succeeded and Step does work.
	StateRunning

	// StateStopped means the connector was shut down.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the state is a defined value.
func (s State) IsValid() bool {
	return s >= StateInitialized && s <= StateStopped
}

// IsRunning returns true if the connector processes traffic.
func (s State) IsRunning() bool {
	return s == StateRunning
}
