package transport

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pion/logging"
)

// DefaultSMSSize is the length of one SMS text.
const DefaultSMSSize = 160

// SMSConfig configures an SMS link.
//
// The link talks to an SMS gateway proxy over a TCP stream: every SMS is
// one line of text in each direction. After connecting, the link sends
// "phone-number=<PhoneNumber>" so the proxy knows where to deliver.
type SMSConfig struct {
	// Address is the proxy's host:port. Required.
	Address string

	// PhoneNumber is the cloud's SMS number. Required.
	PhoneNumber string

	// Dial opens the proxy connection.
	// Default: net.Dialer.DialContext on "tcp"
	Dial DialFunc

	// MaxSize is the largest SMS text.
	// Default: DefaultSMSSize
	MaxSize int

	// InboxSize is the number of buffered texts.
	// Default: DefaultInboxSize
	InboxSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// SMSLink carries short messages as SMS text through a gateway proxy.
type SMSLink struct {
	streamLink
	lines *lineFraming
}

var (
	_ Link       = (*SMSLink)(nil)
	_ Redirector = (*SMSLink)(nil)
)

// NewSMSLink creates an SMS link. It does not dial until Connect.
func NewSMSLink(config SMSConfig) (*SMSLink, error) {
	if config.Address == "" || config.PhoneNumber == "" {
		return nil, ErrInvalidAddress
	}
	if config.Dial == nil {
		config.Dial = defaultDial
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultSMSSize
	}

	lines := &lineFraming{phone: config.PhoneNumber, limit: config.MaxSize}
	s := &SMSLink{
		streamLink: streamLink{
			framing:   lines,
			dial:      config.Dial,
			maxSize:   config.MaxSize,
			inboxSize: config.InboxSize,
			name:      "sms",
			addr:      config.Address,
		},
		lines: lines,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport-sms")
	}
	return s, nil
}

// Send writes one SMS text.
func (s *SMSLink) Send(data []byte) error {
	if bytes.ContainsAny(data, "\r\n") {
		return ErrInvalidPayload
	}
	return s.streamLink.Send(data)
}

// SetAddress changes the cloud's phone number. It takes effect on the
// next Connect.
func (s *SMSLink) SetAddress(phone string) error {
	if phone == "" {
		return ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines.phone = phone
	return nil
}

// lineFraming carries one unit per line.
type lineFraming struct {
	phone string
	limit int
}

func (f *lineFraming) hello() []byte {
	return []byte("phone-number=" + f.phone + "\n")
}

func (f *lineFraming) read(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	line = bytes.TrimRight(line, "\r\n")
	if len(line) > 4*f.limit {
		return nil, nil
	}
	return line, nil
}

func (f *lineFraming) write(w io.Writer, data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}
