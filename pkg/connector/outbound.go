package connector

import (
	"errors"
	"slices"
	"time"

	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
)

// maxChunksPerMessage bounds the need-data dispatches for one message.
const maxChunksPerMessage = 64

// errTooManyChunks is reported to a facility that never sets the last
// flag.
var errTooManyChunks = errors.New("connector: message has too many chunks")

// outgoing is one message of a send batch. session is nil for responses
// without a session.
type outgoing struct {
	msg     *message.Message
	session *session.Session
}

// send opens the sessions due on ch and transmits every message that is
// ready. A returned error closed the transport.
func (c *Connector) send(ch *channel, now time.Time) error {
	if !ch.lc.IsActive() {
		return nil
	}
	if ch.lastSend.IsZero() {
		ch.lastSend = now
	}
	c.announce(ch)
	c.keepAlive(ch, now)
	c.drainData(ch, now)

	batch := make([]outgoing, 0, len(ch.outbox))
	for _, m := range ch.outbox {
		batch = append(batch, outgoing{msg: m})
	}
	ch.outbox = nil

	sessions := c.sessions.Sessions(ch.kind)
	slices.SortFunc(sessions, func(a, b *session.Session) int {
		if a.Origin() != b.Origin() {
			return int(a.Origin()) - int(b.Origin())
		}
		return int(a.RequestID()) - int(b.RequestID())
	})
	for _, s := range sessions {
		if s.State() != session.StateAllocated {
			continue
		}
		if s.Origin() == session.OriginCloud && !s.ResponseRequired() {
			continue
		}
		if m := c.collect(ch, s); m != nil {
			batch = append(batch, outgoing{msg: m, session: s})
		}
	}

	if len(batch) == 0 {
		return nil
	}
	return c.transmit(ch, batch, now)
}

// announce opens the capability advertisement after a connect. An
// encrypting transport waits until a key is installed.
func (c *Connector) announce(ch *channel) {
	if !ch.announce {
		return
	}
	if ch.sealed && !c.config.Keys.HaveKey() {
		return
	}
	if _, err := c.open(ch.kind, uint8(message.CommandConfig), session.OpenOptions{}); err != nil {
		if c.log != nil {
			c.log.Debugf("%s: capability advertisement deferred: %v", ch.kind, err)
		}
		return
	}
	ch.announce = false
}

// keepAlive pings the cloud when ch was quiet for its keep-alive period.
func (c *Connector) keepAlive(ch *channel, now time.Time) {
	if ch.config.KeepAlive <= 0 || now.Sub(ch.lastSend) < ch.config.KeepAlive {
		return
	}
	if _, err := c.open(ch.kind, uint8(message.CommandPing), session.OpenOptions{}); err != nil {
		if c.log != nil {
			c.log.Debugf("%s: keep-alive deferred: %v", ch.kind, err)
		}
		return
	}
	ch.lastSend = now
}

// drainData opens a session for every queued batch until the session
// table is full.
func (c *Connector) drainData(ch *channel, now time.Time) {
	q := c.data.Queue(ch.kind)
	for {
		b := q.Pop()
		if b == nil {
			return
		}
		opts := session.OpenOptions{
			ResponseRequired: b.ResponseRequired,
			UserContext:      b,
		}
		if b.Timeout > 0 {
			opts.Deadline = now.Add(b.Timeout)
		}
		if _, err := c.open(ch.kind, uint8(message.CommandData), opts); err != nil {
			if !q.Unpop(b) && c.log != nil {
				c.log.Warnf("%s: data batch dropped: %v", ch.kind, err)
			}
			return
		}
	}
}

// collect asks the facility of s for its message. It returns nil while
// the facility defers, or after the exchange failed.
func (c *Connector) collect(ch *channel, s *session.Session) *message.Message {
	if !c.sessions.Acquire(s) {
		return nil
	}
	defer c.sessions.Release(s)

	payload := c.partial[s]
	for range maxChunksPerMessage {
		out := &facility.Data{}
		err := c.dispatcher.Dispatch(facility.ShapeNeedData, s, out)
		if errors.Is(err, facility.ErrPending) {
			c.partial[s] = payload
			return nil
		}
		if err != nil {
			c.abort(ch, s, err)
			return nil
		}
		payload = append(payload, out.Chunk.Payload...)
		if out.Chunk.Flags.Has(message.FlagLast) {
			delete(c.partial, s)
			return messageFor(s, payload)
		}
	}
	c.abort(ch, s, errTooManyChunks)
	return nil
}

func messageFor(s *session.Session, payload []byte) *message.Message {
	if s.Origin() == session.OriginCloud {
		return &message.Message{RequestID: s.RequestID(), Payload: payload}
	}
	return &message.Message{
		RequestID:      s.RequestID(),
		Request:        true,
		ResponseNeeded: s.ResponseRequired(),
		Command:        message.Command(s.ServiceID()),
		Payload:        payload,
	}
}

// abort fails s. A cloud request that wants an answer gets an error
// response.
func (c *Connector) abort(ch *channel, s *session.Session, err error) {
	if c.log != nil {
		c.log.Warnf("%s: %v", s, err)
	}
	if s.Origin() == session.OriginCloud && s.ResponseRequired() {
		ch.outbox = append(ch.outbox, errorResponse(s.RequestID(), err))
	}
	c.dispatcher.OnError(s, err)
	_ = c.sessions.Complete(s, session.OutcomeError)
}

// errorResponse answers request id with the error code matching err.
// Unparseable requests are the cloud's fault; everything else means the
// device could not serve the request.
func errorResponse(id uint16, err error) *message.Message {
	code := message.ErrorUnavailable
	if errors.Is(err, facility.ErrUnrecognized) {
		code = message.ErrorInRequest
	}
	return &message.Message{RequestID: id, Error: true, Payload: message.ErrorPayload(code, "")}
}

// transmit encodes batch and writes it to the link. Sessions advance only
// once every unit was written.
func (c *Connector) transmit(ch *channel, batch []outgoing, now time.Time) error {
	var segs []*message.Segment
	sent := batch[:0:0]
	for _, o := range batch {
		out, err := ch.codec.Encode(o.msg)
		if err != nil {
			if o.session != nil {
				c.abort(ch, o.session, err)
			} else if c.log != nil {
				c.log.Warnf("%s: dropped response %d: %v", ch.kind, o.msg.RequestID, err)
			}
			continue
		}
		segs = append(segs, out...)
		sent = append(sent, o)
	}
	if len(segs) == 0 {
		return nil
	}

	if err := ch.lc.BeginSend(); err != nil {
		return err
	}
	var sendErr error
	for _, unit := range c.bundle(ch, segs) {
		if sendErr = ch.link.Send(ch.wrap(unit)); sendErr != nil {
			break
		}
	}
	if err := ch.lc.EndSend(sendErr); err != nil {
		return err
	}
	if sendErr != nil {
		return sendErr
	}
	ch.lastSend = now

	for _, o := range sent {
		s := o.session
		if s == nil {
			continue
		}
		if s.Origin() == session.OriginDevice {
			c.sessions.MarkSent(s)
			if s.ResponseRequired() {
				continue
			}
		}
		_ = c.sessions.Complete(s, session.OutcomeSuccess)
	}
	return nil
}

// bundle turns segments into units. On short-message transports
// consecutive segments share a pack command while they fit in one
// segment; every pack but the last announces that more follow.
func (c *Connector) bundle(ch *channel, segs []*message.Segment) [][]byte {
	units := make([][]byte, 0, len(segs))
	if !ch.packing() || len(segs) < 2 {
		for _, s := range segs {
			units = append(units, s.Encode())
		}
		return units
	}

	var group []*message.Segment
	size := message.PackOverhead
	flush := func(pending bool) {
		switch len(group) {
		case 0:
		case 1:
			units = append(units, group[0].Encode())
		default:
			pack, err := message.EncodePack(pending, group)
			if err != nil {
				if c.log != nil {
					c.log.Warnf("%s: pack: %v", ch.kind, err)
				}
				for _, s := range group {
					units = append(units, s.Encode())
				}
				break
			}
			units = append(units, pack)
		}
		group = group[:0]
		size = message.PackOverhead
	}

	for _, s := range segs {
		n := message.PackedSize(s)
		if size+n > ch.segSize {
			flush(true)
		}
		if message.PackOverhead+n > ch.segSize {
			units = append(units, s.Encode())
			continue
		}
		group = append(group, s)
		size += n
	}
	flush(false)
	return units
}
