package message

import (
	"encoding/binary"

	"github.com/sigurn/crc16"
)

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// Checksum returns the CRC-16/ARC of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// Header is the short-message segment header.
type Header struct {
	// RequestID is the 10-bit request id.
	RequestID uint16

	// Request is set on requests and clear on responses.
	Request bool

	// ResponseNeeded asks the peer to answer the request.
	ResponseNeeded bool

	// Multipart marks a segment of a multipart message.
	Multipart bool

	// Segment is the segment number of a multipart segment.
	Segment uint8

	// SegmentCount is the number of segments. Carried on segment 0 only.
	SegmentCount uint8

	// Command is the addressed service. Requests only.
	Command Command

	// Error marks an error response. Responses only.
	Error bool

	// Compressed, Encrypted and NewKey describe the message payload.
	// Carried on the first segment only.
	Compressed bool
	Encrypted  bool
	NewKey     bool
}

// hasStatus reports whether the header carries the command/status byte.
func (h *Header) hasStatus() bool {
	return !h.Multipart || h.Segment == 0
}

// Size returns the encoded header size in bytes, including the CRC when
// withCRC is set.
func (h *Header) Size(withCRC bool) int {
	size := 2 // info + request
	if h.Multipart {
		size++
		if h.Segment == 0 {
			size++
		}
	}
	if h.hasStatus() {
		size++
	}
	if withCRC {
		size += CRCSize
	}
	return size
}

func (h *Header) info() uint8 {
	info := uint8(h.RequestID>>8) & infoIDHighMask
	if h.Request {
		info |= infoRequest
	}
	if h.ResponseNeeded {
		info |= infoResponseNeeded
	}
	if h.Multipart {
		info |= infoMultipart
	}
	return info
}

func (h *Header) status() uint8 {
	var cs uint8
	if h.Request {
		cs = uint8(h.Command) & csCommandMask
		if h.NewKey {
			cs |= csNewKey
		}
	} else if h.Error {
		cs |= csError
	}
	if h.Compressed {
		cs |= csCompressed
	}
	if h.Encrypted {
		cs |= csEncrypted
	}
	return cs
}

// encodeTo writes the header into buf and returns the number of bytes
// written. The CRC field, if present, is zeroed.
func (h *Header) encodeTo(buf []byte, withCRC bool) int {
	offset := 0

	buf[offset] = h.info()
	offset++
	buf[offset] = uint8(h.RequestID)
	offset++

	if h.Multipart {
		buf[offset] = h.Segment
		offset++
		if h.Segment == 0 {
			buf[offset] = h.SegmentCount
			offset++
		}
	}

	if h.hasStatus() {
		buf[offset] = h.status()
		offset++
	}

	if withCRC {
		buf[offset] = 0
		buf[offset+1] = 0
		offset += CRCSize
	}
	return offset
}

// decode parses a header from data and returns the number of bytes
// consumed and the CRC field value.
func (h *Header) decode(data []byte, withCRC bool) (int, uint16, error) {
	if len(data) < 2 {
		return 0, 0, ErrTooShort
	}
	*h = Header{}

	offset := 0
	info := data[offset]
	offset++
	h.RequestID = uint16(info&infoIDHighMask)<<8 | uint16(data[offset])
	offset++

	h.Request = info&infoRequest != 0
	h.ResponseNeeded = info&infoResponseNeeded != 0
	h.Multipart = info&infoMultipart != 0

	if h.Multipart {
		if len(data) < offset+1 {
			return 0, 0, ErrTooShort
		}
		h.Segment = data[offset]
		offset++
		if h.Segment == 0 {
			if len(data) < offset+1 {
				return 0, 0, ErrTooShort
			}
			h.SegmentCount = data[offset]
			offset++
			if h.SegmentCount == 0 {
				return 0, 0, ErrBadHeader
			}
		}
	} else {
		h.SegmentCount = 1
	}

	if h.hasStatus() {
		if len(data) < offset+1 {
			return 0, 0, ErrTooShort
		}
		cs := data[offset]
		offset++

		if h.Request {
			h.Command = Command(cs & csCommandMask)
			h.NewKey = cs&csNewKey != 0
		} else {
			h.Command = CommandOpaque
			h.Error = cs&csError != 0
		}
		h.Compressed = cs&csCompressed != 0
		h.Encrypted = cs&csEncrypted != 0
	}

	var crc uint16
	if withCRC {
		if len(data) < offset+CRCSize {
			return 0, 0, ErrTooShort
		}
		crc = binary.BigEndian.Uint16(data[offset:])
		offset += CRCSize
	}
	return offset, crc, nil
}

// Segment is one short-message segment.
type Segment struct {
	Header
	Payload []byte
}

// Encode serializes the segment with its CRC.
func (s *Segment) Encode() []byte {
	return s.encode(true)
}

func (s *Segment) encode(withCRC bool) []byte {
	hdrSize := s.Header.Size(withCRC)
	buf := make([]byte, hdrSize+len(s.Payload))
	s.Header.encodeTo(buf, withCRC)
	copy(buf[hdrSize:], s.Payload)

	if withCRC {
		binary.BigEndian.PutUint16(buf[hdrSize-CRCSize:], Checksum(buf))
	}
	return buf
}

// DecodeSegment parses a segment and verifies its CRC.
func DecodeSegment(data []byte) (*Segment, error) {
	return decodeSegment(data, true)
}

func decodeSegment(data []byte, withCRC bool) (*Segment, error) {
	s := &Segment{}
	n, crc, err := s.Header.decode(data, withCRC)
	if err != nil {
		return nil, err
	}

	if withCRC {
		check := make([]byte, len(data))
		copy(check, data)
		check[n-CRCSize] = 0
		check[n-CRCSize+1] = 0
		if Checksum(check) != crc {
			return nil, ErrBadCRC
		}
	}

	s.Payload = append([]byte(nil), data[n:]...)
	return s, nil
}
