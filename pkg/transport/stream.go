package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/pion/logging"
)

// DialFunc opens a stream connection.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

func defaultDial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// streamFraming splits a byte stream into units.
type streamFraming interface {
	// hello is written right after the connection is opened. May be nil.
	hello() []byte
	read(r *bufio.Reader) ([]byte, error)
	write(w io.Writer, data []byte) error
}

// streamLink is the connection handling shared by the stream links.
type streamLink struct {
	framing   streamFraming
	dial      DialFunc
	maxSize   int
	inboxSize int
	name      string
	log       logging.LeveledLogger

	mu    sync.RWMutex
	addr  string
	conn  net.Conn
	inbox *inbox
	wg    sync.WaitGroup

	writeMu sync.Mutex
}

func (s *streamLink) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return ErrAlreadyConnected
	}

	conn, err := s.dial(ctx, s.addr)
	if err != nil {
		return err
	}
	if hello := s.framing.hello(); hello != nil {
		if _, err := conn.Write(hello); err != nil {
			conn.Close()
			return err
		}
	}

	s.conn = conn
	s.inbox = newInbox(s.inboxSize, s.log)
	if s.log != nil {
		s.log.Infof("%s link connected to %s", s.name, s.addr)
	}

	s.wg.Add(1)
	go s.readLoop(conn, s.inbox)
	return nil
}

func (s *streamLink) Send(data []byte) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	if len(data) > s.maxSize {
		return ErrMessageTooLarge
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.framing.write(conn, data); err != nil {
		if s.log != nil {
			s.log.Warnf("%s send failed: %v", s.name, err)
		}
		return err
	}
	return nil
}

func (s *streamLink) Receive() ([]byte, error) {
	s.mu.RLock()
	in := s.inbox
	s.mu.RUnlock()
	if in == nil {
		return nil, ErrNotConnected
	}
	return in.next()
}

func (s *streamLink) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	s.wg.Wait()
	if s.log != nil {
		s.log.Infof("%s link closed", s.name)
	}
	return err
}

func (s *streamLink) MaxSize() int {
	return s.maxSize
}

func (s *streamLink) SetAddress(addr string) error {
	if addr == "" {
		return ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = addr
	return nil
}

func (s *streamLink) readLoop(conn net.Conn, in *inbox) {
	defer s.wg.Done()

	r := bufio.NewReader(conn)
	for {
		data, err := s.framing.read(r)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && s.log != nil {
				s.log.Debugf("%s read loop ended: %v", s.name, err)
			}
			in.fail(err)
			return
		}
		if len(data) == 0 {
			continue
		}
		in.push(data)
	}
}
