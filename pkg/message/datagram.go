package message

import "bytes"

// EncodeDatagram wraps a segment in the UDP envelope:
//
//	version<<4 | id type (1) || device id (16) || segment
func EncodeDatagram(deviceID, segment []byte) []byte {
	buf := make([]byte, 0, DatagramHeaderSize+len(segment))
	buf = append(buf, DatagramVersion<<4|IDTypeDeviceID)
	buf = append(buf, deviceID...)
	return append(buf, segment...)
}

// DecodeDatagram strips the UDP envelope. A datagram for another device or
// id type returns ErrNotForDevice; a different envelope version returns
// ErrBadVersion.
func DecodeDatagram(deviceID, data []byte) ([]byte, error) {
	if len(data) < DatagramHeaderSize {
		return nil, ErrTooShort
	}
	version := data[0] >> 4
	idType := data[0] & 0x0F
	if version != DatagramVersion {
		return nil, ErrBadVersion
	}
	if idType != IDTypeDeviceID || !bytes.Equal(data[1:DatagramHeaderSize], deviceID) {
		return nil, ErrNotForDevice
	}
	return data[DatagramHeaderSize:], nil
}
