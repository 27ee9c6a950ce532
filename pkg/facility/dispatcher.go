package facility

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
	"github.com/pion/logging"
)

// Data carries the shape-specific arguments of a dispatch.
type Data struct {
	// ServiceID selects the facility when no session is given
	// (ShapeCapabilities).
	ServiceID uint8

	// Kind is the transport for ShapeCapabilities.
	Kind transport.Kind

	// Chunk is the inbound chunk for ShapeHaveData, and is filled by the
	// facility for ShapeNeedData. For ShapeCapabilities the payload
	// receives the advertisement.
	Chunk message.Chunk

	// Err is the reported error for ShapeError.
	Err error
}

// Config configures a Dispatcher.
type Config struct {
	// OnWrap is called when a transport's device request ids wrap.
	// Optional.
	OnWrap func(kind transport.Kind)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

type streams struct {
	in  message.Sequence
	out message.Sequence
}

var _ session.Notifier = (*Dispatcher)(nil)

// Dispatcher maps service ids to facilities.
type Dispatcher struct {
	config Config
	log    logging.LeveledLogger

	mu         sync.RWMutex
	facilities map[uint8]Facility

	seqMu sync.Mutex
	seqs  map[*session.Session]*streams
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(config Config) *Dispatcher {
	d := &Dispatcher{
		config:     config,
		facilities: make(map[uint8]Facility),
		seqs:       make(map[*session.Session]*streams),
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("sm-facility")
	}
	return d
}

// Register adds f under its service id.
func (d *Dispatcher) Register(f Facility) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := f.ServiceID()
	if _, exists := d.facilities[id]; exists {
		return fmt.Errorf("%w: %d", ErrAlreadyRegistered, id)
	}
	d.facilities[id] = f
	if d.log != nil {
		d.log.Debugf("registered service %d (%T)", id, f)
	}
	return nil
}

// Unregister removes the facility for id.
func (d *Dispatcher) Unregister(id uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.facilities, id)
}

// Lookup returns the facility for id, or nil.
func (d *Dispatcher) Lookup(id uint8) Facility {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.facilities[id]
}

// ServiceIDs returns the registered service ids in ascending order.
func (d *Dispatcher) ServiceIDs() []uint8 {
	d.mu.RLock()
	ids := make([]uint8, 0, len(d.facilities))
	for id := range d.facilities {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Capabilities returns the advertisement of service id for kind.
func (d *Dispatcher) Capabilities(id uint8, kind transport.Kind) ([]byte, error) {
	data := &Data{ServiceID: id, Kind: kind}
	if err := d.Dispatch(ShapeCapabilities, nil, data); err != nil {
		return nil, err
	}
	return data.Chunk.Payload, nil
}

// Dispatch invokes the callback for shape on the facility owning s (or
// data.ServiceID when s is nil).
//
// Chunk flags are checked per session and direction: a message starts
// with exactly one start chunk and ends with the last chunk.
func (d *Dispatcher) Dispatch(shape Shape, s *session.Session, data *Data) error {
	if !shape.IsValid() || (s == nil && shape != ShapeCapabilities) {
		return ErrInvalidShape
	}
	if data == nil {
		data = &Data{}
	}

	id := data.ServiceID
	if s != nil {
		id = s.ServiceID()
	}
	f := d.Lookup(id)
	if f == nil {
		if d.log != nil {
			d.log.Warnf("%s for unknown service %d", shape, id)
		}
		return fmt.Errorf("%w: %d", ErrBadCommand, id)
	}

	switch shape {
	case ShapeCapabilities:
		caps, err := f.Capabilities(data.Kind)
		if err != nil {
			return err
		}
		data.Chunk = message.Chunk{Flags: message.FlagStart | message.FlagLast, Payload: caps}
		return nil

	case ShapeHaveData:
		if err := d.streams(s).in.Next(data.Chunk.Flags); err != nil {
			return d.dataError(s, err)
		}
		if err := f.OnData(s, &data.Chunk); err != nil {
			return d.mapError(s, err)
		}
		return nil

	case ShapeNeedData:
		st := d.streams(s)
		if st.out.Done() {
			return d.dataError(s, message.ErrBadChunkFlags)
		}
		data.Chunk = message.Chunk{}
		if err := f.OnNeedData(s, &data.Chunk); err != nil {
			if errors.Is(err, ErrPending) {
				return err
			}
			return d.mapError(s, err)
		}
		if err := st.out.Next(data.Chunk.Flags); err != nil {
			return d.dataError(s, err)
		}
		return nil

	case ShapeError:
		if d.log != nil {
			d.log.Debugf("%s: %v", s, data.Err)
		}
		f.OnError(s, data.Err)
		return nil

	default: // ShapeFree
		f.OnFree(s)
		d.seqMu.Lock()
		delete(d.seqs, s)
		d.seqMu.Unlock()
		return nil
	}
}

func (d *Dispatcher) streams(s *session.Session) *streams {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	st := d.seqs[s]
	if st == nil {
		st = &streams{}
		d.seqs[s] = st
	}
	return st
}

// mapError turns a facility rejection into ErrDataError. Other errors are
// returned unchanged.
func (d *Dispatcher) mapError(s *session.Session, err error) error {
	if errors.Is(err, ErrAborted) || errors.Is(err, ErrUnrecognized) {
		return d.dataError(s, err)
	}
	return err
}

func (d *Dispatcher) dataError(s *session.Session, err error) error {
	if d.log != nil {
		d.log.Debugf("%s: data error: %v", s, err)
	}
	return fmt.Errorf("%w: %w", ErrDataError, err)
}

// OnError implements session.Notifier.
func (d *Dispatcher) OnError(s *session.Session, err error) {
	if derr := d.Dispatch(ShapeError, s, &Data{Err: err}); derr != nil && d.log != nil {
		d.log.Warnf("error notification for %s: %v", s, derr)
	}
}

// OnFree implements session.Notifier.
func (d *Dispatcher) OnFree(s *session.Session) {
	if err := d.Dispatch(ShapeFree, s, nil); err != nil {
		d.seqMu.Lock()
		delete(d.seqs, s)
		d.seqMu.Unlock()
		if d.log != nil {
			d.log.Warnf("free notification for %s: %v", s, err)
		}
	}
}

// OnWrap implements session.Notifier.
func (d *Dispatcher) OnWrap(kind transport.Kind) {
	if d.config.OnWrap != nil {
		d.config.OnWrap(kind)
	}
}
