package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// DefaultUDPPort is the cloud's short-message UDP port.
const DefaultUDPPort = 3297

// DefaultDatagramSize is the largest datagram sent on UDP links.
const DefaultDatagramSize = 1472

// ListenPacketFunc opens the local socket of a UDP link.
type ListenPacketFunc func(ctx context.Context, addr string) (net.PacketConn, error)

// ResolveFunc resolves the cloud address of a UDP link.
type ResolveFunc func(addr string) (net.Addr, error)

// UDPConfig configures a UDP link.
type UDPConfig struct {
	// RemoteAddr is the cloud's host:port. Required.
	RemoteAddr string

	// ListenAddr is the local address.
	// Default: ":0"
	ListenAddr string

	// ListenPacket opens the socket.
	// Default: net.ListenConfig.ListenPacket on "udp"
	ListenPacket ListenPacketFunc

	// Resolve resolves RemoteAddr.
	// Default: net.ResolveUDPAddr on "udp"
	Resolve ResolveFunc

	// MaxSize is the largest datagram.
	// Default: DefaultDatagramSize
	MaxSize int

	// InboxSize is the number of buffered datagrams.
	// Default: DefaultInboxSize
	InboxSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *UDPConfig) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":0"
	}
	if c.ListenPacket == nil {
		c.ListenPacket = func(ctx context.Context, addr string) (net.PacketConn, error) {
			var lc net.ListenConfig
			return lc.ListenPacket(ctx, "udp", addr)
		}
	}
	if c.Resolve == nil {
		c.Resolve = func(addr string) (net.Addr, error) {
			return net.ResolveUDPAddr("udp", addr)
		}
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultDatagramSize
	}
}

// UDPLink carries short-message datagrams. A read loop goroutine moves
// received datagrams into a buffer that Receive drains.
type UDPLink struct {
	config UDPConfig
	log    logging.LeveledLogger

	mu     sync.RWMutex
	remote string
	conn   net.PacketConn
	peer   net.Addr
	inbox  *inbox
	done   chan struct{}
	wg     sync.WaitGroup
}

var (
	_ Link       = (*UDPLink)(nil)
	_ Redirector = (*UDPLink)(nil)
)

// NewUDPLink creates a UDP link. It does not open a socket until Connect.
func NewUDPLink(config UDPConfig) (*UDPLink, error) {
	if config.RemoteAddr == "" {
		return nil, ErrInvalidAddress
	}
	config.applyDefaults()

	u := &UDPLink{
		config: config,
		remote: config.RemoteAddr,
	}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}
	return u, nil
}

// Connect opens the socket and starts the read loop.
func (u *UDPLink) Connect(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return ErrAlreadyConnected
	}

	peer, err := u.config.Resolve(u.remote)
	if err != nil {
		return errors.Join(ErrInvalidAddress, err)
	}
	conn, err := u.config.ListenPacket(ctx, u.config.ListenAddr)
	if err != nil {
		return err
	}

	u.conn = conn
	u.peer = peer
	u.inbox = newInbox(u.config.InboxSize, u.log)
	u.done = make(chan struct{})

	if u.log != nil {
		u.log.Infof("udp link %s -> %s", conn.LocalAddr(), peer)
	}

	u.wg.Add(1)
	go u.readLoop(conn, u.inbox, u.done)
	return nil
}

// Send writes one datagram to the cloud.
func (u *UDPLink) Send(data []byte) error {
	u.mu.RLock()
	conn, peer := u.conn, u.peer
	u.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	if len(data) > u.config.MaxSize {
		return ErrMessageTooLarge
	}

	if u.log != nil {
		u.log.Tracef("sending %d bytes to %v", len(data), peer)
	}
	if _, err := conn.WriteTo(data, peer); err != nil {
		if u.log != nil {
			u.log.Warnf("send failed: %v", err)
		}
		return err
	}
	return nil
}

// Receive returns the next datagram, or nil.
func (u *UDPLink) Receive() ([]byte, error) {
	u.mu.RLock()
	in := u.inbox
	u.mu.RUnlock()
	if in == nil {
		return nil, ErrNotConnected
	}
	return in.next()
}

// Close closes the socket and waits for the read loop to exit.
func (u *UDPLink) Close() error {
	u.mu.Lock()
	conn, done := u.conn, u.done
	u.conn = nil
	u.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(done)
	// Unblock a pending read.
	_ = conn.SetReadDeadline(time.Now())
	err := conn.Close()
	u.wg.Wait()

	if u.log != nil {
		u.log.Info("udp link closed")
	}
	return err
}

// MaxSize returns the largest datagram.
func (u *UDPLink) MaxSize() int {
	return u.config.MaxSize
}

// SetAddress changes the cloud address. It takes effect on the next
// Connect.
func (u *UDPLink) SetAddress(addr string) error {
	if addr == "" {
		return ErrInvalidAddress
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.remote = addr
	return nil
}

// LocalAddr returns the socket address, or nil when closed.
func (u *UDPLink) LocalAddr() net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

func (u *UDPLink) readLoop(conn net.PacketConn, in *inbox, done chan struct{}) {
	defer u.wg.Done()

	buf := make([]byte, u.config.MaxSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				in.fail(err)
				return
			}
			if u.log != nil {
				u.log.Warnf("udp read error: %v", err)
			}
			continue
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if u.log != nil {
			u.log.Tracef("received %d bytes from %v", n, addr)
		}
		in.push(data)
	}
}
