package transport

import (
	"bufio"
	"io"

	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/pion/logging"
)

// DefaultTCPPort is the cloud's primary session port.
const DefaultTCPPort = 3197

// TCPConfig configures the primary session link.
type TCPConfig struct {
	// Address is the cloud's host:port. Required.
	Address string

	// Dial opens the connection.
	// Default: net.Dialer.DialContext on "tcp"
	Dial DialFunc

	// InboxSize is the number of buffered segments.
	// Default: DefaultInboxSize
	InboxSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// TCPLink carries length-prefixed segments over a TCP stream.
type TCPLink struct {
	streamLink
}

var (
	_ Link       = (*TCPLink)(nil)
	_ Redirector = (*TCPLink)(nil)
)

// NewTCPLink creates a TCP link. It does not dial until Connect.
func NewTCPLink(config TCPConfig) (*TCPLink, error) {
	if config.Address == "" {
		return nil, ErrInvalidAddress
	}
	if config.Dial == nil {
		config.Dial = defaultDial
	}

	t := &TCPLink{streamLink{
		framing:   lengthPrefixed{},
		dial:      config.Dial,
		maxSize:   message.MaxStreamSegmentSize,
		inboxSize: config.InboxSize,
		name:      "tcp",
		addr:      config.Address,
	}}
	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("transport-tcp")
	}
	return t, nil
}

// lengthPrefixed frames segments with message.StreamWriter/StreamReader.
type lengthPrefixed struct{}

func (lengthPrefixed) hello() []byte { return nil }

func (lengthPrefixed) read(r *bufio.Reader) ([]byte, error) {
	return message.NewStreamReader(r).Read()
}

func (lengthPrefixed) write(w io.Writer, data []byte) error {
	_, err := message.NewStreamWriter(w).Write(data)
	return err
}
