package message

import "encoding/binary"

// EncodePack bundles segs into one pack command segment. The inner
// segments carry no CRC; the pack segment's CRC covers them. pending
// tells the peer that more messages are queued.
func EncodePack(pending bool, segs []*Segment) ([]byte, error) {
	var flag uint8
	if pending {
		flag |= packFlagPending
	}
	body := []byte{flag}
	for _, s := range segs {
		if s.Request && s.Command == CommandPack {
			return nil, ErrNestedPack
		}
		inner := s.encode(false)
		if len(inner) > 0xFFFF {
			return nil, ErrMessageTooLong
		}
		body = binary.BigEndian.AppendUint16(body, uint16(len(inner)))
		body = append(body, inner...)
	}

	pack := &Segment{
		Header:  Header{Request: true, Command: CommandPack},
		Payload: body,
	}
	return pack.Encode(), nil
}

// IsPack reports whether s is a pack command.
func IsPack(s *Segment) bool {
	return s.Request && s.Command == CommandPack && s.hasStatus()
}

// DecodePack unbundles a pack command segment.
func DecodePack(s *Segment) (pending bool, segs []*Segment, err error) {
	if !IsPack(s) {
		return false, nil, ErrBadPack
	}
	body := s.Payload
	if len(body) < 1 {
		return false, nil, ErrBadPack
	}
	pending = body[0]&packFlagPending != 0
	body = body[1:]

	for len(body) > 0 {
		if len(body) < 2 {
			return false, nil, ErrBadPack
		}
		n := int(binary.BigEndian.Uint16(body))
		body = body[2:]
		if n == 0 || n > len(body) {
			return false, nil, ErrBadPack
		}
		inner, err := decodeSegment(body[:n], false)
		if err != nil {
			return false, nil, err
		}
		if IsPack(inner) {
			return false, nil, ErrNestedPack
		}
		segs = append(segs, inner)
		body = body[n:]
	}
	return pending, segs, nil
}

// PackOverhead is the size of a pack segment holding no segments: the
// request header, the CRC and the flag byte.
const PackOverhead = 3 + CRCSize + 1

// PackedSize returns the bytes s occupies inside a pack command.
func PackedSize(s *Segment) int {
	return 2 + s.Header.Size(false) + len(s.Payload)
}
