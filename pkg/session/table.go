package session

import (
	"sync"
	"time"

	"github.com/backkem/cloudconnector/pkg/transport"
)

// DefaultMaxSessions is the default maximum number of concurrent sessions
// per transport.
const DefaultMaxSessions = 4

type key struct {
	origin Origin
	id     uint16
}

// Table holds the sessions of one transport.
//
// Device request ids come from the table's IDAllocator; cloud request ids
// are taken from the peer. An id stays reserved until its session is
// reclaimed, including while a deferred free is pending.
type Table struct {
	kind        transport.Kind
	maxSessions int
	alloc       IDAllocator
	sessions    map[key]*Session
	wrapped     bool

	mu sync.RWMutex
}

// NewTable creates a session table for kind.
// maxSessions limits the number of concurrent sessions (0 uses DefaultMaxSessions).
func NewTable(kind transport.Kind, maxSessions int) *Table {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	t := &Table{
		kind:        kind,
		maxSessions: maxSessions,
		sessions:    make(map[key]*Session),
	}
	t.alloc = t.defaultAllocator()
	return t
}

// defaultAllocator runs under t.mu, so the wrap is only recorded here and
// reported by the caller once the lock is released.
func (t *Table) defaultAllocator() IDAllocator {
	return NewWrappingAllocator(func() { t.wrapped = true })
}

// SetAllocator replaces the device request id allocator. nil restores a
// fresh wrapping allocator.
func (t *Table) SetAllocator(a IDAllocator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a == nil {
		a = t.defaultAllocator()
	}
	t.alloc = a
}

// Kind returns the transport of the table.
func (t *Table) Kind() transport.Kind {
	return t.kind
}

// MaxSessions returns the maximum number of sessions allowed.
func (t *Table) MaxSessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxSessions
}

// SetMaxSessions changes the session limit. Existing sessions are kept.
func (t *Table) SetMaxSessions(n int) {
	if n <= 0 {
		n = DefaultMaxSessions
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxSessions = n
}

// Count returns the number of sessions holding a request id.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// IsFull returns true if no more sessions can be added.
func (t *Table) IsFull() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions) >= t.maxSessions
}

// Lookup returns the live session for (origin, id), or nil. Sessions in a
// terminal state are not returned, so late traffic for them is dropped.
func (t *Table) Lookup(origin Origin, id uint16) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.sessions[key{origin, id}]
	if s == nil || s.state.IsTerminal() {
		return nil
	}
	return s
}

// Sessions returns the live sessions.
func (t *Table) Sessions() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var result []*Session
	for _, s := range t.sessions {
		if !s.state.IsTerminal() {
			result = append(result, s)
		}
	}
	return result
}

func (t *Table) open(serviceID uint8, opts OpenOptions) (s *Session, wrapped bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= t.maxSessions {
		return nil, false, ErrBusy
	}

	id, err := t.alloc.Next(func(id uint16) bool {
		_, ok := t.sessions[key{OriginDevice, id}]
		return ok
	})
	wrapped, t.wrapped = t.wrapped, false
	if err != nil {
		return nil, wrapped, err
	}
	if id > MaxRequestID {
		return nil, wrapped, ErrInvalidRequestID
	}
	k := key{OriginDevice, id}
	if _, ok := t.sessions[k]; ok {
		return nil, wrapped, ErrDuplicateRequest
	}

	s = &Session{
		table:            t,
		kind:             t.kind,
		requestID:        id,
		serviceID:        serviceID,
		origin:           OriginDevice,
		responseRequired: opts.ResponseRequired,
		deadline:         opts.Deadline,
		UserContext:      opts.UserContext,
		state:            StateAllocated,
	}
	t.sessions[k] = s
	return s, wrapped, nil
}

func (t *Table) accept(id uint16, serviceID uint8, responseRequired bool) (*Session, error) {
	if id > MaxRequestID {
		return nil, ErrInvalidRequestID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{OriginCloud, id}
	if _, ok := t.sessions[k]; ok {
		return nil, ErrDuplicateRequest
	}
	if len(t.sessions) >= t.maxSessions {
		return nil, ErrBusy
	}

	s := &Session{
		table:            t,
		kind:             t.kind,
		requestID:        id,
		serviceID:        serviceID,
		origin:           OriginCloud,
		responseRequired: responseRequired,
		state:            StateAllocated,
	}
	t.sessions[k] = s
	return s, nil
}

func (t *Table) setState(s *Session, from, to State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (t *Table) setDeadline(s *Session, deadline time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.deadline = deadline
}

// retire moves a live session into a terminal state. changed is false if
// it was already terminal. freeNow is false when the free must wait for
// Release.
func (t *Table) retire(s *Session, to State, outcome Outcome) (changed, freeNow bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.state.IsTerminal() {
		return false, false
	}
	s.state = to
	s.outcome = outcome
	if s.busy > 0 {
		s.freePending = true
		return true, false
	}
	return true, true
}

func (t *Table) acquire(s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.state.IsTerminal() {
		return false
	}
	s.busy++
	return true
}

func (t *Table) release(s *Session) (freeNow bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.busy > 0 {
		s.busy--
	}
	if s.busy == 0 && s.freePending {
		s.freePending = false
		return true
	}
	return false
}

// expire retires every live session whose deadline is not after now.
func (t *Table) expire(now time.Time) (expired []*Session, freeNow []bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sessions {
		if s.state.IsTerminal() || s.deadline.IsZero() || now.Before(s.deadline) {
			continue
		}
		s.state = StateTimedOut
		s.outcome = OutcomeError
		if s.busy > 0 {
			s.freePending = true
			freeNow = append(freeNow, false)
		} else {
			freeNow = append(freeNow, true)
		}
		expired = append(expired, s)
	}
	return expired, freeNow
}

// reclaim releases the request id of s.
func (t *Table) reclaim(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{s.origin, s.requestID}
	if t.sessions[k] == s {
		delete(t.sessions, k)
	}
	s.state = StateFreed
}
