package message

import "errors"

// Message layer errors.
var (
	// Segment decoding errors
	ErrTooShort        = errors.New("message: segment too short")
	ErrBadHeader       = errors.New("message: malformed segment header")
	ErrBadCRC          = errors.New("message: crc mismatch")
	ErrTooManySegments = errors.New("message: too many segments")
	ErrNestedPack      = errors.New("message: pack command inside pack command")
	ErrBadPack         = errors.New("message: malformed pack command")

	// Transport envelope errors
	ErrBadVersion   = errors.New("message: unsupported datagram version")
	ErrNotForDevice = errors.New("message: datagram addressed to another device")
	ErrBadPreamble  = errors.New("message: invalid sms preamble")
	ErrBadEncoding  = errors.New("message: invalid base85 text")

	// Stream errors
	ErrStreamReadFailed    = errors.New("message: failed to read from stream")
	ErrInvalidLengthPrefix = errors.New("message: invalid length prefix")

	// Payload errors
	ErrMessageTooLong       = errors.New("message: exceeds maximum size")
	ErrDecompress           = errors.New("message: decompression failed")
	ErrCompressionDisabled  = errors.New("message: compressed message but compression is disabled")
	ErrEncryptionDisabled   = errors.New("message: encrypted message but encryption is disabled")
	ErrNotEncrypted         = errors.New("message: plaintext message but encryption is required")
	ErrTruncatedCiphertext  = errors.New("message: encrypted payload shorter than tag")
	ErrBadChunkFlags        = errors.New("message: chunk start/last flags out of order")
	ErrInvalidSegmentLimits = errors.New("message: invalid segment size or count")
)

// Wire format constants.
const (
	// CRCSize is the size of the segment checksum.
	CRCSize = 2

	// MaxSegments is the largest segment count a multipart message can carry.
	MaxSegments = 255

	// DatagramVersion is the UDP envelope version.
	DatagramVersion uint8 = 1

	// IDTypeDeviceID marks a UDP envelope addressed by device id.
	IDTypeDeviceID uint8 = 0

	// DeviceIDSize is the size of the device id in the UDP envelope.
	DeviceIDSize = 16

	// DatagramHeaderSize is the UDP envelope size in front of a segment.
	DatagramHeaderSize = 1 + DeviceIDSize

	// StreamLengthPrefixSize is the size of the TCP length prefix.
	StreamLengthPrefixSize = 2

	// MaxStreamSegmentSize is the largest segment on the primary session.
	MaxStreamSegmentSize = 0xFFFF

	// TagSize is the size of the authentication tag trailing an
	// encrypted payload.
	TagSize = 16
)

// Info byte bits.
const (
	infoRequest        uint8 = 0x80
	infoResponseNeeded uint8 = 0x40
	infoMultipart      uint8 = 0x20
	infoIDHighMask     uint8 = 0x03
)

// Command/status byte bits.
const (
	csCommandMask uint8 = 0x1F
	csError       uint8 = 0x01
	csCompressed  uint8 = 0x20
	csEncrypted   uint8 = 0x40
	csNewKey      uint8 = 0x80
)

// Pack body flags.
const (
	packFlagPending uint8 = 0x01
)
