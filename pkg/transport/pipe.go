package transport

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition simulates a lossy medium on a Pipe.
type NetworkCondition struct {
	// DropRate is the probability of dropping a datagram (0.0 - 1.0).
	DropRate float64

	// DuplicateRate is the probability of delivering a datagram twice.
	DuplicateRate float64
}

// Pipe is an in-memory datagram path between a device and a cloud
// endpoint, built on pion's test bridge. Datagrams are delivered by a
// background goroutine unless auto delivery is turned off, in which case
// the test calls Tick or Process.
type Pipe struct {
	bridge *test.Bridge
	device *pipeEnd
	cloud  *pipeEnd

	mu        sync.RWMutex
	condition NetworkCondition
	rng       *rand.Rand
	closed    bool
	auto      bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// pipeEnd pumps datagrams from a bridge conn into a channel, so that
// PipePacketConn can stop reading without closing the bridge.
type pipeEnd struct {
	conn net.Conn
	in   chan []byte
}

func newPipeEnd(conn net.Conn) *pipeEnd {
	e := &pipeEnd{conn: conn, in: make(chan []byte, 64)}
	go func() {
		defer close(e.in)
		buf := make([]byte, 65536)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			e.in <- data
		}
	}()
	return e
}

// NewPipe creates a pipe. With auto set, datagrams are delivered every
// millisecond.
func NewPipe(auto bool) *Pipe {
	bridge := test.NewBridge()
	p := &Pipe{
		bridge: bridge,
		device: newPipeEnd(bridge.GetConn0()),
		cloud:  newPipeEnd(bridge.GetConn1()),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if auto {
		p.startAuto()
	}
	return p
}

func (p *Pipe) startAuto() {
	p.auto = true
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go func(stop chan struct{}) {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}(p.stop)
}

// SetCondition configures loss simulation for both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Tick delivers at most one datagram in each direction.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers every queued datagram.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.bridge.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Device returns the device end.
func (p *Pipe) Device() *PipePacketConn {
	return newPipePacketConn(p, p.device, PipeAddr{ID: 0}, PipeAddr{ID: 1})
}

// Cloud returns the cloud end.
func (p *Pipe) Cloud() *PipePacketConn {
	return newPipePacketConn(p, p.cloud, PipeAddr{ID: 1}, PipeAddr{ID: 0})
}

// ListenPacket returns a ListenPacketFunc that hands out the device end,
// for UDPConfig.ListenPacket.
func (p *Pipe) ListenPacket() ListenPacketFunc {
	return func(context.Context, string) (net.PacketConn, error) {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.closed {
			return nil, ErrClosed
		}
		return p.Device(), nil
	}
}

// Resolve is a ResolveFunc that maps every address to the cloud end.
func (p *Pipe) Resolve(string) (net.Addr, error) {
	return PipeAddr{ID: 1}, nil
}

// Close stops delivery and closes both ends.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.auto {
		close(p.stop)
	}
	p.mu.Unlock()
	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// PipeAddr is the address of a pipe end.
type PipeAddr struct {
	ID int
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d", a.ID) }

// PipePacketConn is one end of a Pipe as a net.PacketConn. Closing it
// does not close the pipe, so a link can reconnect over the same pipe.
// Deadlines are not supported.
type PipePacketConn struct {
	end   *pipeEnd
	local PipeAddr
	peer  PipeAddr
	pipe  *Pipe

	done      chan struct{}
	closeOnce sync.Once
}

var _ net.PacketConn = (*PipePacketConn)(nil)

func newPipePacketConn(p *Pipe, end *pipeEnd, local, peer PipeAddr) *PipePacketConn {
	return &PipePacketConn{end: end, local: local, peer: peer, pipe: p, done: make(chan struct{})}
}

// ReadFrom reads one datagram.
func (c *PipePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case <-c.done:
		return 0, nil, net.ErrClosed
	default:
	}
	select {
	case data, ok := <-c.end.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return copy(b, data), c.peer, nil
	case <-c.done:
		return 0, nil, net.ErrClosed
	}
}

// WriteTo writes one datagram to the other end. addr is ignored.
func (c *PipePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
	}

	c.pipe.mu.Lock()
	cond := c.pipe.condition
	drop := cond.DropRate > 0 && c.pipe.rng.Float64() < cond.DropRate
	dup := cond.DuplicateRate > 0 && c.pipe.rng.Float64() < cond.DuplicateRate
	c.pipe.mu.Unlock()

	if drop {
		return len(b), nil
	}
	if dup {
		if _, err := c.end.conn.Write(b); err != nil {
			return 0, err
		}
	}
	return c.end.conn.Write(b)
}

// Close closes this end and unblocks a pending read.
func (c *PipePacketConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// LocalAddr returns the address of this end.
func (c *PipePacketConn) LocalAddr() net.Addr { return c.local }

// SetDeadline is a no-op.
func (c *PipePacketConn) SetDeadline(time.Time) error { return nil }

// SetReadDeadline is a no-op.
func (c *PipePacketConn) SetReadDeadline(time.Time) error { return nil }

// SetWriteDeadline is a no-op.
func (c *PipePacketConn) SetWriteDeadline(time.Time) error { return nil }
