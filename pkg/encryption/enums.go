package encryption

// DataType identifies a persisted encryption record.
type DataType int

const (
	// DataTypeUnknown is the zero value.
	DataTypeUnknown DataType = iota

	// DataTypeCurrentKey is the key used for new messages.
	DataTypeCurrentKey

	// DataTypePreviousKey is kept to decrypt messages sent before a rotation.
	DataTypePreviousKey

	// DataTypeDeviceID is the 16-byte device identifier.
	DataTypeDeviceID

	// DataTypeTracking is the per-transport bitmap of seen cloud request ids.
	DataTypeTracking

	// DataTypeRequestID is the next device request id of a transport.
	DataTypeRequestID
)

// String returns a human-readable name for the data type.
func (d DataType) String() string {
	switch d {
	case DataTypeCurrentKey:
		return "current-key"
	case DataTypePreviousKey:
		return "previous-key"
	case DataTypeDeviceID:
		return "device-id"
	case DataTypeTracking:
		return "tracking"
	case DataTypeRequestID:
		return "request-id"
	default:
		return "unknown"
	}
}

// IsValid returns true if the data type is a defined value.
func (d DataType) IsValid() bool {
	return d >= DataTypeCurrentKey && d <= DataTypeRequestID
}

// Role selects which IV pool the engine seals with. A device seals in the
// device pool and opens messages from the cloud pool; a cloud peer does
// the reverse.
type Role int

const (
	RoleDevice Role = iota
	RoleCloud
)

// String returns a human-readable name for the role.
func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "device"
	case RoleCloud:
		return "cloud"
	default:
		return "unknown"
	}
}
