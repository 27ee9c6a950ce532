// Package ping implements the short-message keep-alive service.
//
// The cloud pings the device to check reachability; the device answers
// with an empty response when one is required. The device pings the
// cloud to open NAT bindings or to pull pending messages, and learns the
// outcome through Config.OnResponse.
package ping

import (
	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
	"github.com/pion/logging"
)

// Response is the final status of a device ping.
type Response struct {
	Kind        transport.Kind
	RequestID   uint16
	UserContext any
	Status      facility.Status
}

// Config configures the ping service.
type Config struct {
	// OnRequest is called for every cloud ping. Optional.
	OnRequest func(kind transport.Kind, responseRequired bool)

	// OnResponse receives the status of every device ping once its
	// session is freed. Optional.
	OnResponse func(Response)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

type exchange struct {
	answered bool
}

// Service is the ping facility.
type Service struct {
	facility.Base

	config Config
	log    logging.LeveledLogger
}

// New creates the ping service.
func New(config Config) *Service {
	s := &Service{
		Base:   facility.Base{ID: uint8(message.CommandPing)},
		config: config,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("sm-ping")
	}
	return s
}

func exchangeOf(sess *session.Session) *exchange {
	x, _ := sess.ServiceContext.(*exchange)
	if x == nil {
		x = &exchange{}
		sess.ServiceContext = x
	}
	return x
}

// OnData handles a cloud ping request or the answer to a device ping.
func (s *Service) OnData(sess *session.Session, c *message.Chunk) error {
	if sess.Origin() == session.OriginDevice {
		if c.Flags.Has(message.FlagLast) {
			exchangeOf(sess).answered = true
		}
		return nil
	}
	if !c.Flags.Has(message.FlagLast) {
		return nil
	}
	if s.log != nil {
		s.log.Debugf("ping from cloud on %s", sess.Kind())
	}
	if s.config.OnRequest != nil {
		s.config.OnRequest(sess.Kind(), sess.ResponseRequired())
	}
	return nil
}

// OnError logs the failure. The status is reported by OnFree.
func (s *Service) OnError(sess *session.Session, err error) {
	if s.log != nil {
		s.log.Debugf("%s: %v", sess, err)
	}
}

// OnFree reports the status of a device ping.
func (s *Service) OnFree(sess *session.Session) {
	if sess.Origin() != session.OriginDevice {
		return
	}
	x, _ := sess.ServiceContext.(*exchange)
	resp := Response{
		Kind:        sess.Kind(),
		RequestID:   sess.RequestID(),
		UserContext: sess.UserContext,
		Status:      facility.StatusOf(sess, x != nil && x.answered),
	}
	if s.log != nil {
		s.log.Debugf("ping %d on %s: %s", resp.RequestID, resp.Kind, resp.Status)
	}
	if s.config.OnResponse != nil {
		s.config.OnResponse(resp)
	}
}
