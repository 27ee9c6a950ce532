package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
)

// DefaultReconnectDelay is the wait between a close and the next connect.
const DefaultReconnectDelay = 30 * time.Second

// StateChangeFunc observes lifecycle transitions. It is called without
// the lifecycle lock held.
type StateChangeFunc func(kind Kind, from, to State, err error)

// LifecycleConfig configures a Lifecycle.
type LifecycleConfig struct {
	// Kind is the transport the lifecycle drives. Required.
	Kind Kind

	// Link is the underlying link. Required.
	Link Link

	// ReconnectDelay is the wait in StateWaitForReconnect.
	// Default: DefaultReconnectDelay
	ReconnectDelay time.Duration

	// OnStateChange observes transitions. Optional.
	OnStateChange StateChangeFunc

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Lifecycle is the state machine of one transport:
//
//	idle -> open <-> send/receive
//	open -> close -> wait-for-reconnect -> idle
//	               \-> terminate
//	open -> redirect -> open (new address)
//
// Sessions may only be opened while IsActive.
type Lifecycle struct {
	config LifecycleConfig
	log    logging.LeveledLogger

	mu          sync.Mutex
	state       State
	reconnectAt time.Time
	lastErr     error
}

// NewLifecycle creates a lifecycle in StateIdle.
func NewLifecycle(config LifecycleConfig) (*Lifecycle, error) {
	if !config.Kind.IsValid() {
		return nil, ErrUnknownKind
	}
	if config.Link == nil {
		return nil, ErrNotConfigured
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	l := &Lifecycle{config: config}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("transport-" + config.Kind.String())
	}
	return l, nil
}

// Kind returns the transport kind.
func (l *Lifecycle) Kind() Kind { return l.config.Kind }

// Link returns the underlying link.
func (l *Lifecycle) Link() Link { return l.config.Link }

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsActive reports whether the transport is open.
func (l *Lifecycle) IsActive() bool {
	return l.State().IsActive()
}

// Err returns the error that caused the last close, if any.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// ReconnectAt returns when a waiting transport reconnects.
func (l *Lifecycle) ReconnectAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reconnectAt
}

// SetReconnectDelay changes the wait used by the next close.
func (l *Lifecycle) SetReconnectDelay(d time.Duration) {
	if d <= 0 {
		d = DefaultReconnectDelay
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.ReconnectDelay = d
}

// transition moves from one of the allowed states to to.
func (l *Lifecycle) transition(to State, err error, from ...State) error {
	l.mu.Lock()
	cur := l.state
	allowed := len(from) == 0
	for _, s := range from {
		if s == cur {
			allowed = true
			break
		}
	}
	if !allowed {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, cur, to)
	}
	l.state = to
	if err != nil {
		l.lastErr = err
	}
	l.mu.Unlock()

	if l.log != nil {
		l.log.Debugf("%s -> %s", cur, to)
	}
	if l.config.OnStateChange != nil && cur != to {
		l.config.OnStateChange(l.config.Kind, cur, to, err)
	}
	return nil
}

// Connect opens the link from StateIdle or StateRedirect. A failed
// connect goes through close into wait-for-reconnect.
func (l *Lifecycle) Connect(ctx context.Context) error {
	l.mu.Lock()
	cur := l.state
	l.mu.Unlock()
	if cur != StateIdle && cur != StateRedirect {
		return fmt.Errorf("%w: connect in %s", ErrInvalidState, cur)
	}

	if err := l.config.Link.Connect(ctx); err != nil {
		if l.log != nil {
			l.log.Warnf("connect failed: %v", err)
		}
		l.closeLink(err, true, cur)
		return err
	}
	l.mu.Lock()
	l.lastErr = nil
	l.mu.Unlock()
	return l.transition(StateOpen, nil, cur)
}

// BeginSend enters StateSend.
func (l *Lifecycle) BeginSend() error {
	return l.transition(StateSend, nil, StateOpen)
}

// EndSend returns to StateOpen, or fails the transport when err is set.
func (l *Lifecycle) EndSend(err error) error {
	if err != nil {
		return l.Fail(err)
	}
	return l.transition(StateOpen, nil, StateSend)
}

// BeginReceive enters StateReceive.
func (l *Lifecycle) BeginReceive() error {
	return l.transition(StateReceive, nil, StateOpen)
}

// EndReceive returns to StateOpen, or fails the transport when err is set.
func (l *Lifecycle) EndReceive(err error) error {
	if err != nil {
		return l.Fail(err)
	}
	return l.transition(StateOpen, nil, StateReceive)
}

// Fail closes an active transport after a fatal error. It reconnects
// after the reconnect delay.
func (l *Lifecycle) Fail(err error) error {
	if l.log != nil {
		l.log.Warnf("transport failed: %v", err)
	}
	return l.closeLink(err, true, StateOpen, StateSend, StateReceive)
}

// Close closes the transport. With reconnect it waits out the reconnect
// delay and reconnects, otherwise it terminates.
func (l *Lifecycle) Close(reconnect bool) error {
	return l.closeLink(nil, reconnect, StateIdle, StateOpen, StateSend, StateReceive, StateWaitForReconnect, StateRedirect)
}

func (l *Lifecycle) closeLink(cause error, reconnect bool, from ...State) error {
	if err := l.transition(StateClose, cause, from...); err != nil {
		return err
	}
	if err := l.config.Link.Close(); err != nil && l.log != nil {
		l.log.Debugf("link close: %v", err)
	}

	if !reconnect {
		return l.transition(StateTerminate, nil, StateClose)
	}
	l.mu.Lock()
	l.reconnectAt = l.config.Now().Add(l.config.ReconnectDelay)
	l.mu.Unlock()
	return l.transition(StateWaitForReconnect, nil, StateClose)
}

// Redirect closes an open transport and reconnects to addr.
func (l *Lifecycle) Redirect(ctx context.Context, addr string) error {
	r, ok := l.config.Link.(Redirector)
	if !ok {
		return ErrNoRedirect
	}
	if err := l.transition(StateClose, nil, StateOpen, StateSend, StateReceive); err != nil {
		return err
	}
	if err := l.config.Link.Close(); err != nil && l.log != nil {
		l.log.Debugf("link close: %v", err)
	}
	if err := r.SetAddress(addr); err != nil {
		l.mu.Lock()
		l.reconnectAt = l.config.Now().Add(l.config.ReconnectDelay)
		l.mu.Unlock()
		_ = l.transition(StateWaitForReconnect, err, StateClose)
		return err
	}
	if l.log != nil {
		l.log.Infof("redirecting to %s", addr)
	}
	if err := l.transition(StateRedirect, nil, StateClose); err != nil {
		return err
	}
	return l.Connect(ctx)
}

// Start moves a terminated transport back to StateIdle.
func (l *Lifecycle) Start() error {
	return l.transition(StateIdle, nil, StateTerminate, StateIdle)
}

// Poll advances a waiting transport: once the reconnect delay passed it
// returns to idle, and an idle transport connects. It reports whether a
// connect was attempted.
func (l *Lifecycle) Poll(ctx context.Context, now time.Time) (bool, error) {
	l.mu.Lock()
	cur, at := l.state, l.reconnectAt
	l.mu.Unlock()

	switch cur {
	case StateWaitForReconnect:
		if now.Before(at) {
			return false, nil
		}
		if err := l.transition(StateIdle, nil, StateWaitForReconnect); err != nil {
			return false, err
		}
	case StateIdle:
	default:
		return false, nil
	}
	return true, l.Connect(ctx)
}
