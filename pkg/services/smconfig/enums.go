// Package smconfig implements the short-message configuration service:
// capability advertisement and key exchange with the cloud.
//
// On every connection the device advertises its capabilities:
//
//	opcode(0x00) flags(1) [tag(16) when HAVE_KEY]
//
// The tag proves which key the device holds without revealing it. The cloud
// answers a missing or stale key with KEY_SET carrying a fresh 16-byte
// key. The device installs it, persists the tracking records of every
// encrypting transport and answers KEY_RESPONSE with the new tag, or
// KEY_ERROR with a reason when any step fails.
package smconfig

// Opcodes.
const (
	OpcodeCapabilities uint8 = 0x00
	OpcodeKeySet       uint8 = 0x01
	OpcodeKeyResponse  uint8 = 0x02
	OpcodeKeyError     uint8 = 0x03
)

// Capability flags.
const (
	CapabilitySMS         uint8 = 0x01
	CapabilityUDP         uint8 = 0x02
	CapabilityEncryption  uint8 = 0x04
	CapabilityHaveKey     uint8 = 0x08
	CapabilityCompression uint8 = 0x10
	CapabilityPack        uint8 = 0x20
	CapabilityBattery     uint8 = 0x40
)

// State is the per-transport configuration state.
type State int

const (
	// StateIdle means nothing was advertised since the last reset.
	StateIdle State = iota
	// StateAdvertising means capabilities were advertised and the device
	// waits for a key.
	StateAdvertising
	// StateKeyExchangePending means a key set was handled and the answer
	// is not sent yet.
	StateKeyExchangePending
	// StateReady means the transport holds a usable configuration.
	StateReady
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdvertising:
		return "advertising"
	case StateKeyExchangePending:
		return "key-exchange-pending"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// IsValid returns true if the state is a defined value.
func (s State) IsValid() bool {
	return s >= StateIdle && s <= StateReady
}
