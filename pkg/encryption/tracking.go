package encryption

// RequestIDSpace is the number of request ids addressable on the
// short-message wire (10 bits).
const RequestIDSpace = 1024

// TrackingSize is the persisted size of a TrackingRecord in bytes.
const TrackingSize = RequestIDSpace / 8

// TrackingRecord is a bitmap of cloud request ids already accepted under
// the current key on one transport.
type TrackingRecord [TrackingSize]byte

// Seen reports whether id was marked.
func (r *TrackingRecord) Seen(id uint16) bool {
	id %= RequestIDSpace
	return r[id/8]&(1<<(id%8)) != 0
}

// Mark records id as seen.
func (r *TrackingRecord) Mark(id uint16) {
	id %= RequestIDSpace
	r[id/8] |= 1 << (id % 8)
}

// Clear forgets every id.
func (r *TrackingRecord) Clear() {
	*r = TrackingRecord{}
}

// Bytes returns a copy of the bitmap for persistence.
func (r *TrackingRecord) Bytes() []byte {
	out := make([]byte, TrackingSize)
	copy(out, r[:])
	return out
}

// load restores the bitmap from persisted bytes.
func (r *TrackingRecord) load(b []byte) {
	r.Clear()
	copy(r[:], b)
}
