// Package opaque delivers cloud responses that no longer match a device
// request, because the request was cancelled or timed out before the
// answer arrived, and tells the application when the cloud holds more
// messages for the device.
package opaque

import (
	"fmt"

	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
	"github.com/pion/logging"
)

// DefaultMaxResponse bounds an assembled opaque response.
const DefaultMaxResponse = 4096

// Response is an unmatched cloud response.
type Response struct {
	Kind      transport.Kind
	RequestID uint16
	Payload   []byte

	// Err is set when the cloud sent an error response.
	Err error
}

// Config configures the opaque service.
type Config struct {
	// OnResponse receives every complete opaque response. Optional.
	OnResponse func(Response)

	// OnPendingData is called when the cloud reports that more messages
	// are waiting. The application should send a request, such as a
	// ping, to pull them. Optional.
	OnPendingData func(kind transport.Kind)

	// MaxResponse bounds the assembled payload.
	// Default: DefaultMaxResponse
	MaxResponse int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

type pending struct {
	asm      *message.Assembler
	payload  []byte
	complete bool
	err      error
}

// Service is the opaque response facility.
type Service struct {
	facility.Base

	config Config
	log    logging.LeveledLogger
}

// New creates the opaque service.
func New(config Config) *Service {
	if config.MaxResponse <= 0 {
		config.MaxResponse = DefaultMaxResponse
	}
	s := &Service{
		Base:   facility.Base{ID: uint8(message.CommandOpaque)},
		config: config,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("sm-opaque")
	}
	return s
}

func (s *Service) pending(sess *session.Session) *pending {
	p, _ := sess.ServiceContext.(*pending)
	if p == nil {
		p = &pending{asm: message.NewAssembler(s.config.MaxResponse)}
		sess.ServiceContext = p
	}
	return p
}

// OnData collects the response payload.
func (s *Service) OnData(sess *session.Session, c *message.Chunk) error {
	p := s.pending(sess)
	out, complete, err := p.asm.Add(*c)
	if err != nil {
		return fmt.Errorf("%w: %w", err, facility.ErrAborted)
	}
	if complete {
		p.payload = out
		p.complete = true
	}
	return nil
}

// OnError records a cloud error response.
func (s *Service) OnError(sess *session.Session, err error) {
	s.pending(sess).err = err
}

// OnFree delivers the response.
func (s *Service) OnFree(sess *session.Session) {
	p, _ := sess.ServiceContext.(*pending)
	if p == nil || (!p.complete && p.err == nil) {
		return
	}
	resp := Response{
		Kind:      sess.Kind(),
		RequestID: sess.RequestID(),
		Payload:   p.payload,
		Err:       p.err,
	}
	if s.log != nil {
		s.log.Debugf("opaque response %d on %s (%d bytes, err=%v)", resp.RequestID, resp.Kind, len(resp.Payload), resp.Err)
	}
	if s.config.OnResponse != nil {
		s.config.OnResponse(resp)
	}
}

// PendingData reports that the cloud holds more messages for kind.
func (s *Service) PendingData(kind transport.Kind) {
	if s.log != nil {
		s.log.Debugf("cloud has pending messages on %s", kind)
	}
	if s.config.OnPendingData != nil {
		s.config.OnPendingData(kind)
	}
}
