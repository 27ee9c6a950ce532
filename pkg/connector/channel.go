package connector

import (
	"time"

	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/transport"
)

// channel is the short-message layer of one transport. Everything but
// announce is guarded by the connector's step lock.
type channel struct {
	kind   transport.Kind
	config *TransportConfig
	lc     *transport.Lifecycle
	link   transport.Link
	codec  *message.Codec
	reasm  *message.Reassembler

	// segSize is the largest segment a unit carries.
	segSize int

	// sealed is set when the codec encrypts.
	sealed bool

	// deviceID addresses UDP datagrams. Set by Start.
	deviceID []byte

	// announce asks the send path to advertise capabilities.
	announce bool

	// outbox holds responses without a session, such as error responses
	// to rejected requests.
	outbox []*message.Message

	// lastSend is when the last unit went out, for keep-alives.
	lastSend time.Time
}

// segmentSize returns the segment budget of a unit on kind.
func segmentSize(kind transport.Kind, link transport.Link, sharedKey string) int {
	switch kind {
	case transport.KindUDP:
		return link.MaxSize() - message.DatagramHeaderSize
	case transport.KindSMS:
		return message.MaxSMSSegmentSize(link.MaxSize(), sharedKey)
	default:
		return min(link.MaxSize(), message.MaxStreamSegmentSize)
	}
}

// reliable reports whether the transport is a stream. Framing errors on a
// stream mean the peers lost sync and are fatal.
func (ch *channel) reliable() bool {
	return ch.kind == transport.KindTCP
}

// packing reports whether segments may be bundled into pack commands.
func (ch *channel) packing() bool {
	return ch.kind.IsShortMessage() && !ch.config.DisablePack
}

// reset prepares the channel for a new connection.
func (ch *channel) reset() {
	ch.reasm = message.NewReassembler(ch.config.MaxSegments)
	ch.outbox = nil
	ch.announce = true
}

// wrap puts a segment into the transport's envelope.
func (ch *channel) wrap(segment []byte) []byte {
	switch ch.kind {
	case transport.KindUDP:
		return message.EncodeDatagram(ch.deviceID, segment)
	case transport.KindSMS:
		return []byte(message.EncodeSMS(ch.config.SharedKey, segment))
	default:
		return segment
	}
}

// unwrap strips the transport's envelope from a received unit.
func (ch *channel) unwrap(unit []byte) ([]byte, error) {
	switch ch.kind {
	case transport.KindUDP:
		return message.DecodeDatagram(ch.deviceID, unit)
	case transport.KindSMS:
		return message.DecodeSMS(ch.config.SharedKey, string(unit))
	default:
		return unit, nil
	}
}
