package session

// Request id constants.
const (
	// RequestIDBits is the width of a request id on the wire.
	RequestIDBits = 10

	// InvalidRequestID is the all-ones request id. It is never issued.
	InvalidRequestID uint16 = 1<<RequestIDBits - 1

	// MaxRequestID is the largest request id that may be issued.
	MaxRequestID = InvalidRequestID - 1
)

// IDAllocator issues request ids for device-initiated sessions.
//
// inUse reports whether an id is still held by a session on the same
// transport. Allocators may skip such ids or fail with
// ErrDuplicateRequest.
type IDAllocator interface {
	Next(inUse func(uint16) bool) (uint16, error)
}

// WrappingAllocator issues ids sequentially over [0, MaxRequestID],
// wrapping back to 0 and skipping ids in use.
type WrappingAllocator struct {
	next   uint16
	onWrap func()
}

// NewWrappingAllocator creates an allocator starting at 0. onWrap, if not
// nil, is called each time the counter wraps.
func NewWrappingAllocator(onWrap func()) *WrappingAllocator {
	return &WrappingAllocator{onWrap: onWrap}
}

// Next implements IDAllocator.
func (a *WrappingAllocator) Next(inUse func(uint16) bool) (uint16, error) {
	for tries := 0; tries <= int(MaxRequestID); tries++ {
		id := a.next

		a.next++
		if a.next > MaxRequestID {
			a.next = 0
			if a.onWrap != nil {
				a.onWrap()
			}
		}

		if inUse == nil || !inUse(id) {
			return id, nil
		}
	}
	return 0, ErrIDExhausted
}
