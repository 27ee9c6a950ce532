package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Manager coordinates the lifecycles of the configured transports.
type Manager struct {
	mu         sync.RWMutex
	lifecycles map[Kind]*Lifecycle
}

// NewManager creates a manager for the given lifecycles.
func NewManager(lifecycles ...*Lifecycle) *Manager {
	m := &Manager{lifecycles: make(map[Kind]*Lifecycle)}
	for _, l := range lifecycles {
		m.lifecycles[l.Kind()] = l
	}
	return m
}

// Add registers l, replacing any lifecycle of the same kind.
func (m *Manager) Add(l *Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifecycles[l.Kind()] = l
}

// Lifecycle returns the lifecycle of kind, or nil.
func (m *Manager) Lifecycle(kind Kind) *Lifecycle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lifecycles[kind]
}

// Kinds returns the configured kinds in Kinds order.
func (m *Manager) Kinds() []Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Kind, 0, len(m.lifecycles))
	for _, k := range Kinds {
		if m.lifecycles[k] != nil {
			out = append(out, k)
		}
	}
	return out
}

// IsActive reports whether kind is configured and open. It is the
// session manager's gate.
func (m *Manager) IsActive(kind Kind) bool {
	l := m.Lifecycle(kind)
	return l != nil && l.IsActive()
}

// State returns the state of kind.
func (m *Manager) State(kind Kind) (State, error) {
	l := m.Lifecycle(kind)
	if l == nil {
		return StateIdle, ErrNotConfigured
	}
	return l.State(), nil
}

// Poll polls every lifecycle and returns the connect errors.
func (m *Manager) Poll(ctx context.Context, now time.Time) error {
	var errs []error
	for _, k := range m.Kinds() {
		if _, err := m.Lifecycle(k).Poll(ctx, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseAll terminates every transport.
func (m *Manager) CloseAll() error {
	var errs []error
	for _, k := range m.Kinds() {
		l := m.Lifecycle(k)
		if l.State() == StateTerminate {
			continue
		}
		if err := l.Close(false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
