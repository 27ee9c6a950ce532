package crypto

import "encoding/binary"

// TransportClass identifies the transport family a message travelled on.
// The class is bound into every IV and keys persistent storage records.
type TransportClass uint8

const (
	// ClassSMS is the short-message SMS transport.
	ClassSMS TransportClass = 0

	// ClassSatellite is reserved for satellite short messaging.
	ClassSatellite TransportClass = 1

	// ClassUDP is the short-message UDP transport.
	ClassUDP TransportClass = 2

	// ClassEDP is the primary TCP session.
	ClassEDP TransportClass = 3

	// ClassAll addresses records shared by every transport (keys, device id).
	ClassAll TransportClass = 0xFF
)

// String returns a human-readable name for the transport class.
func (c TransportClass) String() string {
	switch c {
	case ClassSMS:
		return "sms"
	case ClassSatellite:
		return "satellite"
	case ClassUDP:
		return "udp"
	case ClassEDP:
		return "edp"
	case ClassAll:
		return "all"
	default:
		return "unknown"
	}
}

// IsValid returns true if the class is a defined value.
func (c TransportClass) IsValid() bool {
	return c <= ClassEDP || c == ClassAll
}

// MessageType distinguishes requests from responses in the IV.
type MessageType uint8

const (
	TypeRequest  MessageType = 0x00
	TypeResponse MessageType = 0x80
)

// Pool identifies which side allocated the request id.
type Pool uint8

const (
	PoolDevice Pool = 0x00
	PoolCloud  Pool = 0x40
)

// DeriveIV builds the 12-byte IV for a message.
//
// Layout before masking: class (1) || type|pool (1) || request id (2, BE) || zeros.
// The result is XORed with the trailing IVSize bytes of the device id so
// two devices sharing a key never share an IV.
func DeriveIV(deviceID []byte, class TransportClass, typ MessageType, pool Pool, requestID uint16) ([]byte, error) {
	if len(deviceID) != DeviceIDSize {
		return nil, ErrInvalidDeviceIDSize
	}

	iv := make([]byte, IVSize)
	iv[0] = byte(class)
	iv[1] = byte(typ) | byte(pool)
	binary.BigEndian.PutUint16(iv[2:4], requestID)

	mask := deviceID[DeviceIDSize-IVSize:]
	for i := range iv {
		iv[i] ^= mask[i]
	}
	return iv, nil
}
