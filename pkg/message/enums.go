// Package message implements the short-message wire format.
//
// A short message is carried in one or more segments. Every segment starts
// with an info byte and the low byte of the request id; multipart segments
// carry their segment number (and, on segment 0, the segment count); the
// first segment carries a command/status byte. A CRC-16/ARC over the
// segment follows the header:
//
//	info(1) request(1) [segment#(1) [count(1)]] [cmd_status(1)] crc(2) payload
//
// Several segments may be bundled into one pack command. On UDP each
// segment is preceded by a version byte and the device id; on SMS the
// segment is base85 text behind a "(key):" preamble. On the primary TCP
// session segments are length-prefixed.
//
// Above the framing, a Codec compresses, encrypts and splits messages, and
// a Reassembler joins the segments of a multipart message.
package message

import "fmt"

// Command identifies the service a request is addressed to.
type Command uint8

const (
	// CommandConnect asks the device to open its primary session.
	CommandConnect Command = 0x00
	// CommandPing is a keep-alive.
	CommandPing Command = 0x01
	// CommandCLI runs a command line on the device.
	CommandCLI Command = 0x02
	// CommandConfig carries capability advertisement and key exchange.
	CommandConfig Command = 0x03
	// CommandData uploads device data.
	CommandData Command = 0x04
	// CommandOpaque carries cloud messages without a device request.
	CommandOpaque Command = 0x05
	// CommandPack bundles several segments.
	CommandPack Command = 0x1F
)

// String returns a human-readable name for the command.
func (c Command) String() string {
	switch c {
	case CommandConnect:
		return "connect"
	case CommandPing:
		return "ping"
	case CommandCLI:
		return "cli"
	case CommandConfig:
		return "config"
	case CommandData:
		return "data"
	case CommandOpaque:
		return "opaque"
	case CommandPack:
		return "pack"
	default:
		return fmt.Sprintf("command(%#x)", uint8(c))
	}
}

// IsValid returns true if the command fits the command field.
func (c Command) IsValid() bool {
	return uint8(c)&^csCommandMask == 0
}

// ChunkFlags mark the position of a chunk within a message.
type ChunkFlags uint8

const (
	// FlagStart marks the first chunk of a message.
	FlagStart ChunkFlags = 1 << iota
	// FlagLast marks the final chunk of a message.
	FlagLast
)

// Has reports whether all bits of f are set.
func (c ChunkFlags) Has(f ChunkFlags) bool {
	return c&f == f
}

// ErrorCode is the value of a cloud or device error response.
type ErrorCode uint16

const (
	// ErrorInRequest means the request was malformed.
	ErrorInRequest ErrorCode = 0x0000
	// ErrorUnavailable means the service is not available.
	ErrorUnavailable ErrorCode = 0x0001
	// ErrorUnknown is any other failure.
	ErrorUnknown ErrorCode = 0x0002
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrorInRequest:
		return "error in request"
	case ErrorUnavailable:
		return "unavailable"
	case ErrorUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("error(%#x)", uint16(e))
	}
}

// ResponseError is an error response received from the cloud.
type ResponseError struct {
	Code ErrorCode
	Hint string
}

// Error implements error.
func (e *ResponseError) Error() string {
	if e.Hint == "" {
		return "message: cloud error: " + e.Code.String()
	}
	return "message: cloud error: " + e.Code.String() + ": " + e.Hint
}

// ParseResponseError decodes an error response payload: a big-endian
// error code followed by an optional text hint.
func ParseResponseError(payload []byte) *ResponseError {
	if len(payload) < 2 {
		return &ResponseError{Code: ErrorUnknown}
	}
	return &ResponseError{
		Code: ErrorCode(uint16(payload[0])<<8 | uint16(payload[1])),
		Hint: string(payload[2:]),
	}
}

// ErrorPayload encodes an error response payload.
func ErrorPayload(code ErrorCode, hint string) []byte {
	out := make([]byte, 2, 2+len(hint))
	out[0] = byte(code >> 8)
	out[1] = byte(code)
	return append(out, hint...)
}
