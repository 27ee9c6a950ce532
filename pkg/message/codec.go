package message

import (
	"github.com/backkem/cloudconnector/pkg/crypto"
)

// Sealer encrypts and decrypts message payloads. It is implemented by
// encryption.Engine.
type Sealer interface {
	Encrypt(class crypto.TransportClass, typ crypto.MessageType, requestID uint16, plaintext []byte) (ciphertext, tag []byte, err error)
	Decrypt(class crypto.TransportClass, typ crypto.MessageType, requestID uint16, ciphertext, tag []byte) ([]byte, error)
}

// Message is a complete short message above the segment layer.
type Message struct {
	RequestID      uint16
	Request        bool
	ResponseNeeded bool
	Command        Command
	Error          bool
	NewKey         bool
	Payload        []byte
}

func (m *Message) messageType() crypto.MessageType {
	if m.Request {
		return crypto.TypeRequest
	}
	return crypto.TypeResponse
}

// CodecConfig configures a Codec.
type CodecConfig struct {
	// Class is the wire transport class used for IVs.
	Class crypto.TransportClass

	// Sealer encrypts every payload. If nil, payloads travel in the clear
	// and encrypted messages are rejected.
	Sealer Sealer

	// Compression enables zlib compression of outgoing payloads and
	// acceptance of compressed incoming payloads.
	Compression bool

	// MaxSegmentSize is the largest encoded segment. Required.
	MaxSegmentSize int

	// MaxSegments is the largest segment count per message.
	// Default: 1
	MaxSegments int
}

// Codec converts messages to segments and back for one transport.
type Codec struct {
	config CodecConfig
}

// NewCodec creates a codec.
func NewCodec(config CodecConfig) (*Codec, error) {
	if config.MaxSegments <= 0 {
		config.MaxSegments = 1
	}
	if config.MaxSegmentSize <= (&Header{Multipart: true}).Size(true) || config.MaxSegments > MaxSegments {
		return nil, ErrInvalidSegmentLimits
	}
	return &Codec{config: config}, nil
}

// MaxPayload returns the largest payload a single message can carry
// before compression and encryption.
func (c *Codec) MaxPayload() int {
	first := (&Header{Multipart: true}).Size(true)
	next := (&Header{Multipart: true, Segment: 1}).Size(true)
	if c.config.MaxSegments == 1 {
		first = (&Header{}).Size(true)
	}
	n := c.config.MaxSegmentSize - first + (c.config.MaxSegments-1)*(c.config.MaxSegmentSize-next)
	if c.config.Sealer != nil {
		n -= TagSize
	}
	return n
}

// Encode compresses, encrypts and splits m.
func (c *Codec) Encode(m *Message) ([]*Segment, error) {
	h := Header{
		RequestID:      m.RequestID,
		Request:        m.Request,
		ResponseNeeded: m.ResponseNeeded,
		Command:        m.Command,
		Error:          m.Error,
		NewKey:         m.NewKey,
	}
	payload := m.Payload

	if c.config.Compression && len(payload) > 0 {
		z, err := Compress(payload)
		if err != nil {
			return nil, err
		}
		if len(z) < len(payload) {
			payload = z
			h.Compressed = true
		}
	}

	if c.config.Sealer != nil {
		ct, tag, err := c.config.Sealer.Encrypt(c.config.Class, m.messageType(), m.RequestID, payload)
		if err != nil {
			return nil, err
		}
		payload = append(ct, tag...)
		h.Encrypted = true
	}

	return Split(h, payload, c.config.MaxSegmentSize, c.config.MaxSegments)
}

// Decode turns a complete (reassembled) segment into a message.
func (c *Codec) Decode(s *Segment) (*Message, error) {
	m := &Message{
		RequestID:      s.RequestID,
		Request:        s.Request,
		ResponseNeeded: s.ResponseNeeded,
		Command:        s.Command,
		Error:          s.Error,
		NewKey:         s.NewKey,
	}
	payload := s.Payload

	switch {
	case s.Encrypted && c.config.Sealer == nil:
		return nil, ErrEncryptionDisabled
	case !s.Encrypted && c.config.Sealer != nil:
		return nil, ErrNotEncrypted
	case s.Encrypted:
		if len(payload) < TagSize {
			return nil, ErrTruncatedCiphertext
		}
		ct := payload[:len(payload)-TagSize]
		tag := payload[len(payload)-TagSize:]
		plain, err := c.config.Sealer.Decrypt(c.config.Class, m.messageType(), s.RequestID, ct, tag)
		if err != nil {
			return nil, err
		}
		payload = plain
	}

	if s.Compressed {
		if !c.config.Compression {
			return nil, ErrCompressionDisabled
		}
		limit := c.config.MaxSegmentSize * c.config.MaxSegments * 8
		plain, err := Decompress(payload, limit)
		if err != nil {
			return nil, err
		}
		payload = plain
	}

	m.Payload = payload
	return m, nil
}
