// Package connect handles the cloud's request to open the primary TCP
// session, typically sent over SMS to a device that keeps TCP down to save
// power or data.
package connect

import (
	"errors"
	"fmt"

	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
	"github.com/pion/logging"
)

var (
	// ErrRefused is returned when the application declines the request.
	ErrRefused = errors.New("connect: request refused")

	// ErrNoStarter is returned when no Start function is configured.
	ErrNoStarter = errors.New("connect: tcp transport not available")
)

// Config configures the connect service.
type Config struct {
	// Allow decides whether to honour a request received on kind.
	// Default: allow every request
	Allow func(kind transport.Kind) bool

	// Start opens the primary session. Required for requests to succeed.
	Start func() error

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Service is the request-connect facility.
type Service struct {
	facility.Base

	config Config
	log    logging.LeveledLogger
}

// New creates the connect service.
func New(config Config) *Service {
	s := &Service{
		Base:   facility.Base{ID: uint8(message.CommandConnect)},
		config: config,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("sm-connect")
	}
	return s
}

// OnData starts the TCP transport once the request is complete.
func (s *Service) OnData(sess *session.Session, c *message.Chunk) error {
	if !c.Flags.Has(message.FlagLast) {
		return nil
	}
	kind := sess.Kind()
	if s.config.Allow != nil && !s.config.Allow(kind) {
		if s.log != nil {
			s.log.Infof("connect request on %s refused", kind)
		}
		return fmt.Errorf("%w: %w", ErrRefused, facility.ErrAborted)
	}
	if s.config.Start == nil {
		return fmt.Errorf("%w: %w", ErrNoStarter, facility.ErrAborted)
	}
	if s.log != nil {
		s.log.Infof("connect request on %s, starting tcp", kind)
	}
	if err := s.config.Start(); err != nil {
		return fmt.Errorf("connect: start tcp: %w: %w", err, facility.ErrAborted)
	}
	return nil
}
