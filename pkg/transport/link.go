package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/logging"
)

// DefaultInboxSize is the number of received units a link buffers
// between its read loop and Receive.
const DefaultInboxSize = 32

// Link carries encoded units (UDP datagrams, SMS texts, stream segments)
// between the device and the cloud. Framing above the unit is done by the
// caller.
//
// Receive never blocks, so the connector can poll every link from its
// step loop.
type Link interface {
	// Connect opens the link.
	Connect(ctx context.Context) error

	// Send writes one unit.
	Send(data []byte) error

	// Receive returns the next received unit, or nil when nothing is
	// waiting. An error wrapping ErrLinkDown means the link failed.
	Receive() ([]byte, error)

	// Close closes the link. It can be connected again afterwards.
	Close() error

	// MaxSize returns the largest unit Send accepts.
	MaxSize() int
}

// Redirector is implemented by links that can change their peer address.
type Redirector interface {
	SetAddress(addr string) error
}

// inbox buffers units from a read loop. When full, new units are dropped
// like a congested network would.
type inbox struct {
	ch  chan []byte
	log logging.LeveledLogger

	mu  sync.Mutex
	err error
}

func newInbox(size int, log logging.LeveledLogger) *inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &inbox{ch: make(chan []byte, size), log: log}
}

func (b *inbox) push(data []byte) {
	select {
	case b.ch <- data:
	default:
		if b.log != nil {
			b.log.Warnf("inbox full, dropped %d bytes", len(data))
		}
	}
}

func (b *inbox) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = fmt.Errorf("%w: %w", ErrLinkDown, err)
	}
}

// next returns a buffered unit first, then the read loop's error.
func (b *inbox) next() ([]byte, error) {
	select {
	case data := <-b.ch:
		return data, nil
	default:
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return nil, b.err
}
