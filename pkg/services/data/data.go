// Package data uploads device data batches over the short-message
// transports.
//
// Producers hand batches to a per-transport Queue from any goroutine. The
// connector's step loop pops them, opens a session per batch and reports
// the outcome through Config.OnResult.
package data

import (
	"errors"
	"fmt"
	"sync"

	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
	"github.com/pion/logging"
)

// DefaultQueueSize is the per-transport queue limit.
const DefaultQueueSize = 8

// ErrNoBatch is returned when a data session carries no batch.
var ErrNoBatch = errors.New("data: session has no batch")

// Result is the outcome of one batch.
type Result struct {
	Kind      transport.Kind
	RequestID uint16
	Batch     *Batch
	Status    facility.Status

	// Response is the cloud's acknowledgement payload.
	Response []byte

	// Err is the session error, if any.
	Err error
}

// Config configures the data service.
type Config struct {
	// QueueSize limits each transport's queue.
	// Default: DefaultQueueSize
	QueueSize int

	// OnResult receives the outcome of every batch. Optional.
	OnResult func(Result)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

type upload struct {
	response *message.Assembler
	answer   []byte
	answered bool
	err      error
}

// Service is the data upload facility.
type Service struct {
	facility.Base

	config Config
	log    logging.LeveledLogger

	mu     sync.Mutex
	queues map[transport.Kind]*Queue
}

// New creates the data service.
func New(config Config) *Service {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	s := &Service{
		Base:   facility.Base{ID: uint8(message.CommandData)},
		config: config,
		queues: make(map[transport.Kind]*Queue),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("sm-data")
	}
	return s
}

// Queue returns the queue of kind.
func (s *Service) Queue(kind transport.Kind) *Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[kind]
	if q == nil {
		q = NewQueue(s.config.QueueSize)
		s.queues[kind] = q
	}
	return q
}

// Push queues b for kind. A batch dropped to make room is reported with
// StatusCancel.
func (s *Service) Push(kind transport.Kind, b *Batch) {
	dropped := s.Queue(kind).Push(b)
	if dropped == nil {
		return
	}
	if s.log != nil {
		s.log.Warnf("%s data queue full, dropped oldest batch", kind)
	}
	if s.config.OnResult != nil {
		s.config.OnResult(Result{Kind: kind, Batch: dropped, Status: facility.StatusCancel})
	}
}

func batchOf(sess *session.Session) *Batch {
	b, _ := sess.UserContext.(*Batch)
	return b
}

func (s *Service) upload(sess *session.Session) *upload {
	u, _ := sess.ServiceContext.(*upload)
	if u == nil {
		u = &upload{response: message.NewAssembler(0)}
		sess.ServiceContext = u
	}
	return u
}

// OnNeedData sends the batch of a device session.
func (s *Service) OnNeedData(sess *session.Session, c *message.Chunk) error {
	b := batchOf(sess)
	if b == nil {
		return fmt.Errorf("%w: %w", ErrNoBatch, facility.ErrAborted)
	}
	s.upload(sess)
	c.Flags = message.FlagStart | message.FlagLast
	c.Payload = b.Payload
	return nil
}

// OnData collects the cloud acknowledgement.
func (s *Service) OnData(sess *session.Session, c *message.Chunk) error {
	u := s.upload(sess)
	out, complete, err := u.response.Add(*c)
	if err != nil {
		return fmt.Errorf("%w: %w", err, facility.ErrUnrecognized)
	}
	if complete {
		u.answer = out
		u.answered = true
	}
	return nil
}

// OnError records the session error.
func (s *Service) OnError(sess *session.Session, err error) {
	s.upload(sess).err = err
	if s.log != nil {
		s.log.Debugf("%s: %v", sess, err)
	}
}

// OnFree reports the batch result.
func (s *Service) OnFree(sess *session.Session) {
	if sess.Origin() != session.OriginDevice {
		return
	}
	u, _ := sess.ServiceContext.(*upload)
	if u == nil {
		u = &upload{}
	}
	res := Result{
		Kind:      sess.Kind(),
		RequestID: sess.RequestID(),
		Batch:     batchOf(sess),
		Status:    facility.StatusOf(sess, u.answered),
		Response:  u.answer,
		Err:       u.err,
	}
	if s.log != nil {
		s.log.Debugf("data %d on %s: %s", res.RequestID, res.Kind, res.Status)
	}
	if s.config.OnResult != nil {
		s.config.OnResult(res)
	}
}
