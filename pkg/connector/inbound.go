package connector

import (
	"errors"
	"fmt"
	"time"

	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
)

// maxUnitsPerStep bounds the units read from one link in one Step.
const maxUnitsPerStep = 32

// receive reads the units waiting on ch. A returned error closed the
// transport.
func (c *Connector) receive(ch *channel, now time.Time) error {
	if !ch.lc.IsActive() {
		return nil
	}
	if err := ch.lc.BeginReceive(); err != nil {
		return err
	}

	var fatal error
	for i := 0; i < maxUnitsPerStep; i++ {
		unit, err := ch.link.Receive()
		if err != nil {
			fatal = err
			break
		}
		if unit == nil {
			break
		}
		if err := c.handleUnit(ch, unit, now); err != nil {
			fatal = err
			break
		}
	}

	if err := ch.lc.EndReceive(fatal); err != nil {
		return err
	}
	return fatal
}

// dropOrFail decides what a framing error means. Streams lose sync and
// fail; datagram and SMS units are independent, so the unit is dropped.
func (c *Connector) dropOrFail(ch *channel, err error) error {
	if ch.reliable() && !errors.Is(err, message.ErrNotForDevice) {
		return err
	}
	if c.log != nil {
		c.log.Debugf("%s: dropped unit: %v", ch.kind, err)
	}
	return nil
}

func (c *Connector) handleUnit(ch *channel, unit []byte, now time.Time) error {
	raw, err := ch.unwrap(unit)
	if err != nil {
		return c.dropOrFail(ch, err)
	}
	seg, err := message.DecodeSegment(raw)
	if err != nil {
		return c.dropOrFail(ch, err)
	}
	if !message.IsPack(seg) || seg.Multipart {
		return c.handleSegment(ch, seg, now)
	}

	pending, segs, err := message.DecodePack(seg)
	if err != nil {
		return c.dropOrFail(ch, err)
	}
	for _, s := range segs {
		if err := c.handleSegment(ch, s, now); err != nil {
			return err
		}
	}
	if pending {
		c.opaque.PendingData(ch.kind)
	}
	return nil
}

func (c *Connector) handleSegment(ch *channel, seg *message.Segment, now time.Time) error {
	whole, done, err := ch.reasm.Add(seg, now)
	if err != nil {
		ch.reasm.Drop(seg.Request, seg.RequestID)
		return c.dropOrFail(ch, err)
	}
	if !done {
		return nil
	}

	msg, err := ch.codec.Decode(whole)
	if err != nil {
		c.decodeFailed(ch, whole, err)
		return nil
	}
	if msg.Request {
		return c.handleRequest(ch, msg)
	}
	c.handleResponse(ch, msg)
	return nil
}

// decodeFailed reports a message that failed authentication,
// decompression or the encryption policy. A response fails the matching
// device session with ErrDataError; a request is dropped.
func (c *Connector) decodeFailed(ch *channel, seg *message.Segment, err error) {
	if c.log != nil {
		c.log.Warnf("%s: %s %d: %v", ch.kind, direction(seg.Request), seg.RequestID, err)
	}
	if seg.Request {
		return
	}
	s := c.sessions.Lookup(ch.kind, session.OriginDevice, seg.RequestID)
	if s == nil || !c.sessions.Acquire(s) {
		return
	}
	defer c.sessions.Release(s)
	c.dispatcher.OnError(s, fmt.Errorf("%w: %w", facility.ErrDataError, err))
	_ = c.sessions.Complete(s, session.OutcomeError)
}

func (c *Connector) handleRequest(ch *channel, msg *message.Message) error {
	id := uint8(msg.Command)
	if c.dispatcher.Lookup(id) == nil {
		// Fatal on the stream; short message transports drop the unit.
		return c.dropOrFail(ch, fmt.Errorf("%w: %d", facility.ErrBadCommand, id))
	}

	s, err := c.sessions.Accept(ch.kind, msg.RequestID, id, msg.ResponseNeeded)
	if err != nil {
		if errors.Is(err, session.ErrDuplicateRequest) {
			if c.log != nil {
				c.log.Debugf("%s: duplicate request %d", ch.kind, msg.RequestID)
			}
			return nil
		}
		if msg.ResponseNeeded {
			ch.outbox = append(ch.outbox, errorResponse(msg.RequestID, err))
		}
		return nil
	}
	if !c.sessions.Acquire(s) {
		return nil
	}
	defer c.sessions.Release(s)

	in := &facility.Data{Chunk: message.Chunk{Flags: message.FlagStart | message.FlagLast, Payload: msg.Payload}}
	if err := c.dispatcher.Dispatch(facility.ShapeHaveData, s, in); err != nil {
		c.abort(ch, s, err)
		return nil
	}
	if !s.ResponseRequired() {
		_ = c.sessions.Complete(s, session.OutcomeSuccess)
	}
	return nil
}

func (c *Connector) handleResponse(ch *channel, msg *message.Message) {
	s := c.sessions.Lookup(ch.kind, session.OriginDevice, msg.RequestID)
	if s != nil && s.State() == session.StateAwaitingResponse {
		c.deliver(s, msg)
		return
	}

	// No request waits for it, for example because it timed out. The
	// opaque service hands it to the application.
	s, err := c.sessions.Accept(ch.kind, msg.RequestID, uint8(message.CommandOpaque), false)
	if err != nil {
		if c.log != nil {
			c.log.Debugf("%s: dropped response %d: %v", ch.kind, msg.RequestID, err)
		}
		return
	}
	c.deliver(s, msg)
}

// deliver hands a response to the session's facility and completes the
// session.
func (c *Connector) deliver(s *session.Session, msg *message.Message) {
	if !c.sessions.Acquire(s) {
		return
	}
	defer c.sessions.Release(s)

	if msg.Error {
		c.dispatcher.OnError(s, message.ParseResponseError(msg.Payload))
		_ = c.sessions.Complete(s, session.OutcomeError)
		return
	}
	in := &facility.Data{Chunk: message.Chunk{Flags: message.FlagStart | message.FlagLast, Payload: msg.Payload}}
	if err := c.dispatcher.Dispatch(facility.ShapeHaveData, s, in); err != nil {
		c.dispatcher.OnError(s, err)
		_ = c.sessions.Complete(s, session.OutcomeError)
		return
	}
	_ = c.sessions.Complete(s, session.OutcomeSuccess)
}

func direction(request bool) string {
	if request {
		return "request"
	}
	return "response"
}
