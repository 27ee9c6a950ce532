// Package cli implements the short-message command line service. The cloud
// sends a command line; the device runs it and answers with its output.
//
// Commands run on a Worker goroutine. The step loop polls the worker from
// OnNeedData and defers the response while the command runs. Freeing a
// session with a running command stops the worker and reaps it on a
// cleanup goroutine.
package cli

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/pion/logging"
)

// Defaults.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxResponse = 1024
	DefaultMaxRequest  = 512
)

// Config configures the CLI service.
type Config struct {
	// Runner executes commands.
	// Default: &ShellRunner{}
	Runner Runner

	// Timeout bounds the run time of a command.
	// Default: DefaultTimeout
	Timeout time.Duration

	// MaxResponse truncates command output.
	// Default: DefaultMaxResponse
	MaxResponse int

	// MaxRequest rejects longer command lines.
	// Default: DefaultMaxRequest
	MaxRequest int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.Runner == nil {
		c.Runner = &ShellRunner{}
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxResponse <= 0 {
		c.MaxResponse = DefaultMaxResponse
	}
	if c.MaxRequest <= 0 {
		c.MaxRequest = DefaultMaxRequest
	}
}

// job is the per-session service state.
type job struct {
	request *message.Assembler
	worker  *Worker
	command string
}

// Service is the CLI facility.
type Service struct {
	facility.Base

	config Config
	log    logging.LeveledLogger

	// reaping tracks workers stopped by OnFree.
	reaping sync.WaitGroup
}

// New creates the CLI service.
func New(config Config) *Service {
	config.applyDefaults()
	s := &Service{
		Base:   facility.Base{ID: uint8(message.CommandCLI)},
		config: config,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("sm-cli")
	}
	return s
}

func (s *Service) job(sess *session.Session) *job {
	j, _ := sess.ServiceContext.(*job)
	if j == nil {
		j = &job{request: message.NewAssembler(s.config.MaxRequest)}
		sess.ServiceContext = j
	}
	return j
}

// OnData collects the command line and starts it once complete.
func (s *Service) OnData(sess *session.Session, c *message.Chunk) error {
	j := s.job(sess)
	if j.worker != nil {
		return fmt.Errorf("%w: data after command started", facility.ErrUnrecognized)
	}

	line, complete, err := j.request.Add(*c)
	if errors.Is(err, message.ErrMessageTooLong) {
		return fmt.Errorf("%w: %w", ErrRequestTooLong, facility.ErrAborted)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", err, facility.ErrUnrecognized)
	}
	if !complete {
		return nil
	}
	if len(line) == 0 {
		return fmt.Errorf("%w: %w", ErrEmptyCommand, facility.ErrUnrecognized)
	}

	j.command = string(line)
	j.worker = StartWorker(s.config.Runner, j.command, s.config.MaxResponse, s.config.Timeout)
	if s.log != nil {
		s.log.Infof("%s: running %q", sess, j.command)
	}
	return nil
}

// OnNeedData returns the command output once the worker finished.
func (s *Service) OnNeedData(sess *session.Session, c *message.Chunk) error {
	j, _ := sess.ServiceContext.(*job)
	if j == nil || j.worker == nil {
		return fmt.Errorf("%w: %w", ErrNoJob, facility.ErrAborted)
	}

	out, done, err := j.worker.Result()
	if !done {
		return facility.ErrPending
	}
	if err != nil {
		if s.log != nil {
			s.log.Warnf("%s: %q: %v", sess, j.command, err)
		}
		if errors.Is(err, ErrCommandTimeout) {
			out = append(out, "\ncommand timed out"...)
		} else {
			return fmt.Errorf("%w: %w", err, facility.ErrAborted)
		}
	}
	if len(out) > s.config.MaxResponse {
		out = out[:s.config.MaxResponse]
	}

	c.Flags = message.FlagStart | message.FlagLast
	c.Payload = out
	return nil
}

// OnError logs the failed exchange. The command is stopped by OnFree.
func (s *Service) OnError(sess *session.Session, err error) {
	if s.log != nil {
		s.log.Warnf("%s: %v", sess, err)
	}
}

// OnFree stops a running command unless the cloud asked for no response.
// The worker is reaped on a cleanup goroutine.
func (s *Service) OnFree(sess *session.Session) {
	j, _ := sess.ServiceContext.(*job)
	if j == nil || j.worker == nil {
		return
	}
	if _, done, _ := j.worker.Result(); done {
		return
	}

	// A command nobody waits for runs to completion unless the session
	// was cancelled or timed out.
	if sess.ResponseRequired() || sess.State() != session.StateCompleting {
		j.worker.Stop()
	}
	s.reaping.Add(1)
	go func(w *Worker, command string) {
		defer s.reaping.Done()
		<-w.Done()
		if s.log != nil {
			s.log.Debugf("reaped %q", command)
		}
	}(j.worker, j.command)
}

// Wait blocks until every stopped command has exited.
func (s *Service) Wait() {
	s.reaping.Wait()
}
