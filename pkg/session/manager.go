package session

import (
	"sync"
	"time"

	"github.com/backkem/cloudconnector/pkg/transport"
	"github.com/pion/logging"
)

// Notifier receives session lifecycle events. The facility dispatcher
// implements it to forward them to the owning facility.
//
// Callbacks are invoked without any Manager lock held and may call back
// into the Manager.
type Notifier interface {
	// OnError reports a session-level error such as ErrTimeout.
	OnError(s *Session, err error)

	// OnFree is called once per session, before its request id is
	// reclaimed.
	OnFree(s *Session)

	// OnWrap is called when the device request id counter of a transport
	// wraps.
	OnWrap(kind transport.Kind)
}

// GateFunc reports whether sessions may be opened on a transport.
type GateFunc func(kind transport.Kind) bool

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// MaxSessions limits the number of concurrent sessions per transport.
	// Default: DefaultMaxSessions (4)
	MaxSessions int

	// Gate rejects Open and Accept on inactive transports. If nil every
	// transport is considered active.
	Gate GateFunc

	// Notifier receives error and free events. Optional.
	Notifier Notifier

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// OpenOptions configures a device-initiated session.
type OpenOptions struct {
	// Deadline after which the session times out. Zero waits forever.
	Deadline time.Time

	// UserContext is stored on the session for the caller.
	UserContext any

	// ResponseRequired asks the cloud for a response.
	ResponseRequired bool
}

// Manager owns the session tables of all transports.
type Manager struct {
	config ManagerConfig
	log    logging.LeveledLogger

	mu     sync.RWMutex
	tables map[transport.Kind]*Table
}

// NewManager creates a new session manager.
func NewManager(config ManagerConfig) *Manager {
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}

	m := &Manager{
		config: config,
		tables: make(map[transport.Kind]*Table),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("sm-session")
	}
	return m
}

// SetNotifier replaces the notifier. It must be called before sessions
// are opened.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Notifier = n
}

func (m *Manager) notifier() Notifier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Notifier
}

// Table returns the session table of kind, creating it on first use.
// Returns nil for an invalid kind.
func (m *Manager) Table(kind transport.Kind) *Table {
	if !kind.IsValid() {
		return nil
	}

	m.mu.RLock()
	t := m.tables[kind]
	m.mu.RUnlock()
	if t != nil {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t = m.tables[kind]; t == nil {
		t = NewTable(kind, m.config.MaxSessions)
		m.tables[kind] = t
	}
	return t
}

// SetAllocator installs the device request id allocator for kind.
func (m *Manager) SetAllocator(kind transport.Kind, a IDAllocator) error {
	t := m.Table(kind)
	if t == nil {
		return ErrInvalidTransport
	}
	t.SetAllocator(a)
	return nil
}

// SetMaxSessions sets the session limit for kind.
func (m *Manager) SetMaxSessions(kind transport.Kind, n int) error {
	t := m.Table(kind)
	if t == nil {
		return ErrInvalidTransport
	}
	t.SetMaxSessions(n)
	return nil
}

func (m *Manager) active(kind transport.Kind) bool {
	return m.config.Gate == nil || m.config.Gate(kind)
}

// Open starts a device-initiated session for serviceID on kind.
func (m *Manager) Open(kind transport.Kind, serviceID uint8, opts OpenOptions) (*Session, error) {
	t := m.Table(kind)
	if t == nil {
		return nil, ErrInvalidTransport
	}
	if !m.active(kind) {
		return nil, ErrTransportInactive
	}

	s, wrapped, err := t.open(serviceID, opts)
	if wrapped {
		if m.log != nil {
			m.log.Infof("%s request ids wrapped", kind)
		}
		if n := m.notifier(); n != nil {
			n.OnWrap(kind)
		}
	}
	if err != nil {
		if m.log != nil {
			m.log.Debugf("open %s session for service %d: %v", kind, serviceID, err)
		}
		return nil, err
	}

	if m.log != nil {
		m.log.Debugf("opened %s", s)
	}
	return s, nil
}

// Accept registers a cloud-initiated session carrying the peer's request id.
func (m *Manager) Accept(kind transport.Kind, requestID uint16, serviceID uint8, responseRequired bool) (*Session, error) {
	t := m.Table(kind)
	if t == nil {
		return nil, ErrInvalidTransport
	}
	if !m.active(kind) {
		return nil, ErrTransportInactive
	}

	s, err := t.accept(requestID, serviceID, responseRequired)
	if err != nil {
		if m.log != nil {
			m.log.Debugf("accept %s request %d: %v", kind, requestID, err)
		}
		return nil, err
	}

	if m.log != nil {
		m.log.Debugf("accepted %s", s)
	}
	return s, nil
}

// Lookup returns the live session, or nil if the id is unknown or retired.
func (m *Manager) Lookup(kind transport.Kind, origin Origin, requestID uint16) *Session {
	t := m.Table(kind)
	if t == nil {
		return nil
	}
	return t.Lookup(origin, requestID)
}

// Sessions returns the live sessions of kind.
func (m *Manager) Sessions(kind transport.Kind) []*Session {
	t := m.Table(kind)
	if t == nil {
		return nil
	}
	return t.Sessions()
}

// Count returns the number of sessions holding a request id on kind.
func (m *Manager) Count(kind transport.Kind) int {
	t := m.Table(kind)
	if t == nil {
		return 0
	}
	return t.Count()
}

// MarkSent records that the session's request went out. Sessions that
// expect a response move to StateAwaitingResponse.
func (m *Manager) MarkSent(s *Session) {
	if s.responseRequired {
		s.table.setState(s, StateAllocated, StateAwaitingResponse)
	}
}

// SetDeadline changes the session deadline. Zero waits forever.
func (m *Manager) SetDeadline(s *Session, deadline time.Time) {
	s.table.setDeadline(s, deadline)
}

// Complete finishes the exchange and frees the session.
func (m *Manager) Complete(s *Session, outcome Outcome) error {
	changed, freeNow := s.table.retire(s, StateCompleting, outcome)
	if !changed {
		return ErrSessionClosed
	}
	if freeNow {
		m.free(s)
	}
	return nil
}

// Cancel cancels the live device session with requestID on kind. It
// reports whether a session was cancelled by this call; cancelling an
// unknown or already retired session is a no-op.
func (m *Manager) Cancel(kind transport.Kind, requestID uint16) bool {
	s := m.Lookup(kind, OriginDevice, requestID)
	if s == nil {
		return false
	}
	return m.CancelSession(s)
}

// CancelSession cancels s. The facility is notified through OnFree and
// then the request id is reclaimed. If s is being dispatched the free
// happens on the matching Release.
func (m *Manager) CancelSession(s *Session) bool {
	changed, freeNow := s.table.retire(s, StateCancelled, OutcomeError)
	if !changed {
		return false
	}
	if m.log != nil {
		m.log.Debugf("cancelled %s", s)
	}
	if freeNow {
		m.free(s)
	}
	return true
}

// CancelAll cancels every live session on kind and returns how many were
// cancelled.
func (m *Manager) CancelAll(kind transport.Kind) int {
	t := m.Table(kind)
	if t == nil {
		return 0
	}
	count := 0
	for _, s := range t.Sessions() {
		if m.CancelSession(s) {
			count++
		}
	}
	return count
}

// Acquire pins s while it is being dispatched. It returns false if the
// session is no longer live.
func (m *Manager) Acquire(s *Session) bool {
	return s.table.acquire(s)
}

// Release unpins s and performs a free deferred while it was pinned.
func (m *Manager) Release(s *Session) {
	if s.table.release(s) {
		m.free(s)
	}
}

// Expire times out every session whose deadline is not after now. Each
// expired session is reported once with ErrTimeout and then freed.
// Returns the number of expired sessions.
func (m *Manager) Expire(now time.Time) int {
	m.mu.RLock()
	tables := make([]*Table, 0, len(m.tables))
	for _, t := range m.tables {
		tables = append(tables, t)
	}
	m.mu.RUnlock()

	count := 0
	for _, t := range tables {
		expired, freeNow := t.expire(now)
		for i, s := range expired {
			if m.log != nil {
				m.log.Warnf("%s timed out", s)
			}
			if n := m.notifier(); n != nil {
				n.OnError(s, ErrTimeout)
			}
			if freeNow[i] {
				m.free(s)
			}
		}
		count += len(expired)
	}
	return count
}

func (m *Manager) free(s *Session) {
	if n := m.notifier(); n != nil {
		n.OnFree(s)
	}
	s.ServiceContext = nil
	s.table.reclaim(s)
	if m.log != nil {
		m.log.Tracef("freed %s", s)
	}
}
