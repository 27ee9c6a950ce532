package smconfig

import (
	"fmt"
	"sync"

	"github.com/backkem/cloudconnector/pkg/crypto"
	"github.com/backkem/cloudconnector/pkg/encryption"
	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
	"github.com/pion/logging"
)

// Keys is the part of the encryption engine the service uses.
// *encryption.Engine implements it.
type Keys interface {
	HaveKey() bool
	KeyTag() ([]byte, error)
	BeginKeyUpdate(key []byte) (*encryption.KeyUpdate, error)
}

// Config configures the service.
type Config struct {
	// Keys is the encryption engine. If nil the device does not offer
	// encryption and rejects key sets.
	Keys Keys

	// SMS, UDP and Compression select the advertised features.
	SMS         bool
	UDP         bool
	Compression bool

	// TrackedClasses lists the transports whose tracking records are
	// written on a key set, in order.
	// Default: UDP then SMS, for the enabled transports
	TrackedClasses []crypto.TransportClass

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// response is the per-session answer built while handling a request.
type response struct {
	opcode  uint8
	payload []byte
}

// Service is the configuration facility.
type Service struct {
	facility.Base

	config Config
	log    logging.LeveledLogger

	mu     sync.Mutex
	states map[transport.Kind]State
}

// New creates the configuration service.
func New(config Config) *Service {
	if config.TrackedClasses == nil {
		if config.UDP {
			config.TrackedClasses = append(config.TrackedClasses, crypto.ClassUDP)
		}
		if config.SMS {
			config.TrackedClasses = append(config.TrackedClasses, crypto.ClassSMS)
		}
	}

	s := &Service{
		Base:   facility.Base{ID: uint8(message.CommandConfig)},
		config: config,
		states: make(map[transport.Kind]State),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("sm-config")
	}
	return s
}

// State returns the configuration state of kind.
func (s *Service) State(kind transport.Kind) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[kind]
}

func (s *Service) setState(kind transport.Kind, st State) {
	s.mu.Lock()
	old := s.states[kind]
	s.states[kind] = st
	s.mu.Unlock()
	if old != st && s.log != nil {
		s.log.Debugf("%s: %s -> %s", kind, old, st)
	}
}

// Reset returns kind to StateIdle. It is called on every connection
// establishment.
func (s *Service) Reset(kind transport.Kind) {
	s.setState(kind, StateIdle)
}

// Flags returns the capability flags. HAVE_KEY is set only when the
// current key passes its self-test.
func (s *Service) Flags() (uint8, []byte) {
	flags := CapabilityPack
	if s.config.SMS {
		flags |= CapabilitySMS
	}
	if s.config.UDP {
		flags |= CapabilityUDP
	}
	if s.config.Compression {
		flags |= CapabilityCompression
	}
	if s.config.Keys == nil {
		return flags, nil
	}

	flags |= CapabilityEncryption
	if !s.config.Keys.HaveKey() {
		return flags, nil
	}
	tag, err := s.config.Keys.KeyTag()
	if err != nil {
		// KeyTag invalidated the key; the cloud will send a new one.
		if s.log != nil {
			s.log.Warnf("key tag: %v", err)
		}
		return flags, nil
	}
	return flags | CapabilityHaveKey, tag
}

// Capabilities builds the advertisement for kind and moves it to
// StateAdvertising, or StateReady when no key exchange is needed.
func (s *Service) Capabilities(kind transport.Kind) ([]byte, error) {
	flags, tag := s.Flags()
	out := append([]byte{OpcodeCapabilities, flags}, tag...)

	if s.config.Keys == nil || flags&CapabilityHaveKey != 0 {
		s.setState(kind, StateReady)
	} else {
		s.setState(kind, StateAdvertising)
	}
	if s.log != nil {
		s.log.Infof("%s capabilities %#02x have_key=%t", kind, flags, flags&CapabilityHaveKey != 0)
	}
	return out, nil
}

// OnData handles a cloud request.
func (s *Service) OnData(sess *session.Session, c *message.Chunk) error {
	if !c.Flags.Has(message.FlagStart) {
		return nil
	}
	op, ok := c.Opcode()
	if !ok {
		return fmt.Errorf("%w: empty request: %w", ErrInvalidOpcode, facility.ErrUnrecognized)
	}

	switch op {
	case OpcodeCapabilities:
		// The cloud asks for the configuration again.
		s.Reset(sess.Kind())
		caps, err := s.Capabilities(sess.Kind())
		if err != nil {
			return err
		}
		sess.ServiceContext = &response{opcode: OpcodeCapabilities, payload: caps}
		return nil

	case OpcodeKeySet:
		if s.config.Keys == nil {
			return fmt.Errorf("%w: %w", ErrEncryptionUnsupported, facility.ErrAborted)
		}
		if len(c.Payload) < 1+crypto.KeySize {
			return fmt.Errorf("%w: %d bytes: %w", ErrShortKeySet, len(c.Payload), facility.ErrUnrecognized)
		}
		s.setState(sess.Kind(), StateKeyExchangePending)
		sess.ServiceContext = s.setKey(c.Payload[1 : 1+crypto.KeySize])
		return nil

	default:
		return fmt.Errorf("%w: %#02x: %w", ErrInvalidOpcode, op, facility.ErrUnrecognized)
	}
}

// setKey installs key. Nothing changes in memory unless every step
// succeeds.
func (s *Service) setKey(key []byte) *response {
	fail := func(reason string, err error) *response {
		if s.log != nil {
			s.log.Errorf("key set: %s: %v", reason, err)
		}
		return &response{opcode: OpcodeKeyError, payload: []byte(reason)}
	}

	u, err := s.config.Keys.BeginKeyUpdate(key)
	if err != nil {
		return fail(reasonStoreKey, err)
	}
	for _, class := range s.config.TrackedClasses {
		if err := u.WriteTracking(class); err != nil {
			u.Abort()
			return fail(fmt.Sprintf("unable to write %s tracking data", class), err)
		}
	}
	tag, err := u.Tag()
	if err != nil {
		u.Abort()
		return fail(reasonGenerateTag, err)
	}
	if err := u.Commit(); err != nil {
		return fail(reasonStoreKey, err)
	}

	if s.log != nil {
		s.log.Info("key set")
	}
	return &response{opcode: OpcodeKeyResponse, payload: tag}
}

// OnNeedData writes the response built by OnData. On a device session it
// writes the capability advertisement.
func (s *Service) OnNeedData(sess *session.Session, c *message.Chunk) error {
	if sess.Origin() == session.OriginDevice {
		caps, err := s.Capabilities(sess.Kind())
		if err != nil {
			return err
		}
		c.Flags = message.FlagStart | message.FlagLast
		c.Payload = caps
		return nil
	}

	r, ok := sess.ServiceContext.(*response)
	if !ok || r == nil {
		return fmt.Errorf("%w: %w", ErrNoResponse, facility.ErrAborted)
	}

	switch r.opcode {
	case OpcodeKeyResponse:
		s.setState(sess.Kind(), StateReady)
	case OpcodeKeyError:
		s.setState(sess.Kind(), StateAdvertising)
	}

	c.Flags = message.FlagStart | message.FlagLast
	if r.opcode == OpcodeCapabilities {
		c.Payload = r.payload
	} else {
		c.Payload = append([]byte{r.opcode}, r.payload...)
	}
	return nil
}

// OnError logs the failure of a configuration exchange.
func (s *Service) OnError(sess *session.Session, err error) {
	if s.State(sess.Kind()) == StateKeyExchangePending {
		s.setState(sess.Kind(), StateAdvertising)
	}
	if s.log != nil {
		s.log.Warnf("%s: %v", sess, err)
	}
}
