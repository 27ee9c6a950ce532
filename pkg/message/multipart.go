package message

import (
	"sync"
	"time"
)

// Split cuts payload into segments of at most maxSegmentSize encoded bytes
// (header and CRC included). A payload that fits is sent as a single
// segment. h supplies the header fields of the first segment; the
// multipart fields are filled in.
func Split(h Header, payload []byte, maxSegmentSize, maxSegments int) ([]*Segment, error) {
	if maxSegments <= 0 || maxSegments > MaxSegments {
		maxSegments = MaxSegments
	}

	h.Multipart = false
	h.Segment = 0
	h.SegmentCount = 1
	single := h.Size(true)
	if maxSegmentSize <= single {
		return nil, ErrInvalidSegmentLimits
	}
	if single+len(payload) <= maxSegmentSize {
		return []*Segment{{Header: h, Payload: payload}}, nil
	}

	first := h
	first.Multipart = true
	firstRoom := maxSegmentSize - first.Size(true)

	next := Header{RequestID: h.RequestID, Request: h.Request, ResponseNeeded: h.ResponseNeeded, Multipart: true, Segment: 1}
	nextRoom := maxSegmentSize - next.Size(true)
	if firstRoom <= 0 || nextRoom <= 0 {
		return nil, ErrInvalidSegmentLimits
	}

	count := 1 + (len(payload)-firstRoom+nextRoom-1)/nextRoom
	if count > maxSegments {
		return nil, ErrMessageTooLong
	}
	first.SegmentCount = uint8(count)

	segs := make([]*Segment, 0, count)
	segs = append(segs, &Segment{Header: first, Payload: payload[:firstRoom]})
	rest := payload[firstRoom:]
	for i := 1; len(rest) > 0; i++ {
		n := min(nextRoom, len(rest))
		hdr := next
		hdr.Segment = uint8(i)
		segs = append(segs, &Segment{Header: hdr, Payload: rest[:n]})
		rest = rest[n:]
	}
	return segs, nil
}

type partialKey struct {
	request bool
	id      uint16
}

type partial struct {
	first   *Segment
	parts   map[uint8][]byte
	updated time.Time
}

// Reassembler joins the segments of multipart messages. Segments may
// arrive in any order; they are placed by segment number.
type Reassembler struct {
	maxSegments int

	mu      sync.Mutex
	pending map[partialKey]*partial
}

// NewReassembler creates a reassembler that accepts at most maxSegments
// segments per message (0 means MaxSegments).
func NewReassembler(maxSegments int) *Reassembler {
	if maxSegments <= 0 || maxSegments > MaxSegments {
		maxSegments = MaxSegments
	}
	return &Reassembler{
		maxSegments: maxSegments,
		pending:     make(map[partialKey]*partial),
	}
}

// Add accepts a decoded segment. When the message is complete it returns
// a single segment holding the first segment's header and the joined
// payload. Single segments are returned as they are.
func (r *Reassembler) Add(s *Segment, now time.Time) (*Segment, bool, error) {
	if !s.Multipart {
		return s, true, nil
	}
	if int(s.Segment) >= r.maxSegments {
		return nil, false, ErrTooManySegments
	}
	if s.Segment == 0 && int(s.SegmentCount) > r.maxSegments {
		return nil, false, ErrTooManySegments
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := partialKey{s.Request, s.RequestID}
	p := r.pending[k]
	if p == nil {
		p = &partial{parts: make(map[uint8][]byte)}
		r.pending[k] = p
	}
	p.updated = now
	if s.Segment == 0 {
		p.first = s
	}
	p.parts[s.Segment] = s.Payload

	if p.first == nil || len(p.parts) < int(p.first.SegmentCount) {
		return nil, false, nil
	}

	var payload []byte
	for i := 0; i < int(p.first.SegmentCount); i++ {
		part, ok := p.parts[uint8(i)]
		if !ok {
			// A segment number beyond the count filled the map.
			delete(r.pending, k)
			return nil, false, ErrBadHeader
		}
		payload = append(payload, part...)
	}
	delete(r.pending, k)

	whole := &Segment{Header: p.first.Header, Payload: payload}
	whole.Multipart = false
	whole.SegmentCount = 1
	return whole, true, nil
}

// Drop discards the partial message for (request, id).
func (r *Reassembler) Drop(request bool, id uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, partialKey{request, id})
}

// Prune discards partial messages not updated since before.
// Returns the number discarded.
func (r *Reassembler) Prune(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, p := range r.pending {
		if p.updated.Before(before) {
			delete(r.pending, k)
			n++
		}
	}
	return n
}

// Len returns the number of incomplete messages.
func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
