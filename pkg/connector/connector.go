package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/backkem/cloudconnector/pkg/crypto"
	"github.com/backkem/cloudconnector/pkg/encryption"
	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/services/cli"
	"github.com/backkem/cloudconnector/pkg/services/connect"
	"github.com/backkem/cloudconnector/pkg/services/data"
	"github.com/backkem/cloudconnector/pkg/services/opaque"
	"github.com/backkem/cloudconnector/pkg/services/ping"
	"github.com/backkem/cloudconnector/pkg/services/smconfig"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
	"github.com/pion/logging"
)

// ErrUntrackedClass is returned when an encrypting transport's class is
// not tracked by the encryption engine.
var ErrUntrackedClass = errors.New("connector: encryption engine does not track transport class")

// Connector runs the short-message engine for the configured transports.
type Connector struct {
	config Config
	log    logging.LeveledLogger

	sessions   *session.Manager
	dispatcher *facility.Dispatcher
	transports *transport.Manager
	channels   map[transport.Kind]*channel

	smconfig *smconfig.Service
	ping     *ping.Service
	data     *data.Service
	opaque   *opaque.Service
	connect  *connect.Service
	cli      *cli.Service

	// mu is the step lock.
	mu sync.Mutex

	// partial holds outbound payload collected from facilities that
	// deferred the rest of their message.
	partial map[*session.Session][]byte

	// cancelled holds sessions retired by CancelSession and CancelAll.
	// Each stays pinned until the step goroutine releases it, so its
	// facility is freed there.
	cancelMu  sync.Mutex
	cancelled []*session.Session

	// rekey asks every channel to advertise again after the key was
	// invalidated.
	rekey atomic.Bool
	wake  chan struct{}

	stateMu sync.Mutex
	state   State
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a connector. Transports stay down until Start.
func New(config Config) (*Connector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	c := &Connector{
		config:   config,
		channels: make(map[transport.Kind]*channel),
		partial:  make(map[*session.Session][]byte),
		wake:     make(chan struct{}, 1),
		ctx:      context.Background(),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("connector")
	}

	c.dispatcher = facility.NewDispatcher(facility.Config{
		OnWrap:        c.onWrap,
		LoggerFactory: config.LoggerFactory,
	})
	c.transports = transport.NewManager()
	c.sessions = session.NewManager(session.ManagerConfig{
		Gate:          c.transports.IsActive,
		Notifier:      notifier{c},
		LoggerFactory: config.LoggerFactory,
	})

	for _, kind := range transport.Kinds {
		tc := config.transport(kind)
		if tc == nil {
			continue
		}
		ch, err := c.newChannel(kind, tc)
		if err != nil {
			return nil, fmt.Errorf("connector: %s: %w", kind, err)
		}
		c.channels[kind] = ch
		c.transports.Add(ch.lc)
		if err := c.sessions.SetMaxSessions(kind, tc.MaxSessions); err != nil {
			return nil, err
		}
		if ch.sealed {
			if err := c.sessions.SetAllocator(kind, config.Keys.RequestIDs(kind.Class())); err != nil {
				return nil, err
			}
		}
	}

	if err := c.registerServices(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connector) newChannel(kind transport.Kind, tc *TransportConfig) (*channel, error) {
	ch := &channel{
		kind:     kind,
		config:   tc,
		link:     tc.Link,
		segSize:  segmentSize(kind, tc.Link, tc.SharedKey),
		deviceID: c.config.DeviceID,
	}

	codecConfig := message.CodecConfig{
		Class:          kind.Class(),
		Compression:    c.config.Compression,
		MaxSegmentSize: ch.segSize,
		MaxSegments:    tc.MaxSegments,
	}
	if kind.IsShortMessage() && c.config.Keys != nil {
		if _, ok := c.config.Keys.Tracking(kind.Class()); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUntrackedClass, kind.Class())
		}
		codecConfig.Sealer = c.config.Keys
		ch.sealed = true
	}
	codec, err := message.NewCodec(codecConfig)
	if err != nil {
		return nil, err
	}
	ch.codec = codec
	ch.reset()

	lc, err := transport.NewLifecycle(transport.LifecycleConfig{
		Kind:           kind,
		Link:           tc.Link,
		ReconnectDelay: tc.ReconnectDelay,
		OnStateChange:  c.onStateChange,
		Now:            c.config.Now,
		LoggerFactory:  c.config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	ch.lc = lc
	return ch, nil
}

func (c *Connector) registerServices() error {
	cfg := smconfig.Config{
		SMS:           c.config.SMS != nil,
		UDP:           c.config.UDP != nil,
		Compression:   c.config.Compression,
		LoggerFactory: c.config.LoggerFactory,
	}
	if c.config.Keys != nil {
		cfg.Keys = c.config.Keys
	}
	for _, kind := range transport.Kinds {
		if ch := c.channels[kind]; ch != nil && ch.sealed {
			cfg.TrackedClasses = append(cfg.TrackedClasses, kind.Class())
		}
	}
	c.smconfig = smconfig.New(cfg)
	c.ping = ping.New(c.config.Ping)
	c.data = data.New(c.config.Data)
	c.opaque = opaque.New(c.config.Opaque)

	connectConfig := connect.Config{
		Allow:         c.config.AllowConnect,
		LoggerFactory: c.config.LoggerFactory,
	}
	if c.channels[transport.KindTCP] != nil {
		connectConfig.Start = func() error { return c.startTransport(transport.KindTCP) }
	}
	c.connect = connect.New(connectConfig)

	facilities := []facility.Facility{c.smconfig, c.ping, c.data, c.opaque, c.connect}
	if c.config.CLI != nil {
		c.cli = cli.New(*c.config.CLI)
		facilities = append(facilities, c.cli)
	}
	facilities = append(facilities, c.config.Facilities...)
	for _, f := range facilities {
		if err := c.dispatcher.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// State returns the connector state.
func (c *Connector) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Start loads the key material and enables the transports. Transports
// connect on the next Step, except manual ones.
func (c *Connector) Start(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	switch c.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrAlreadyStopped
	}

	deviceID := c.config.DeviceID
	if keys := c.config.Keys; keys != nil {
		if err := keys.Load(); err != nil {
			return err
		}
		if deviceID == nil {
			deviceID = keys.DeviceID()
		}
	}
	if c.channels[transport.KindUDP] != nil && len(deviceID) != crypto.DeviceIDSize {
		return ErrDeviceIDRequired
	}

	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	for _, kind := range c.transports.Kinds() {
		ch := c.channels[kind]
		ch.deviceID = deviceID
		if ch.config.Manual {
			if err := ch.lc.Close(false); err != nil && c.log != nil {
				c.log.Warnf("%s: %v", kind, err)
			}
		}
	}
	c.mu.Unlock()

	c.state = StateRunning
	if c.log != nil {
		c.log.Infof("started, transports=%v", c.transports.Kinds())
	}
	return nil
}

// Stop cancels every session and terminates the transports. It waits for
// stopped CLI commands to exit.
func (c *Connector) Stop() error {
	c.stateMu.Lock()
	if c.state == StateStopped {
		c.stateMu.Unlock()
		return ErrAlreadyStopped
	}
	c.state = StateStopped
	c.stateMu.Unlock()

	c.mu.Lock()
	for _, kind := range c.transports.Kinds() {
		c.sessions.CancelAll(kind)
	}
	c.releaseCancelled()
	err := c.transports.CloseAll()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if c.cli != nil {
		c.cli.Wait()
	}
	if c.log != nil {
		c.log.Info("stopped")
	}
	return err
}

// Run starts the connector if needed and steps it until ctx is done.
func (c *Connector) Run(ctx context.Context) error {
	if c.State() == StateInitialized {
		if err := c.Start(ctx); err != nil {
			return err
		}
	}
	defer func() {
		if err := c.Stop(); err != nil && !errors.Is(err, ErrAlreadyStopped) && c.log != nil {
			c.log.Warnf("stop: %v", err)
		}
	}()

	ticker := time.NewTicker(c.config.StepInterval)
	defer ticker.Stop()
	for {
		if err := c.Step(ctx, c.config.Now()); err != nil {
			if errors.Is(err, ErrNotStarted) {
				return err
			}
			if c.log != nil {
				c.log.Debugf("step: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-c.wake:
		}
	}
}

// poke wakes Run for work queued outside Step.
func (c *Connector) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Step advances every transport once. It returns the connect, link and
// protocol errors of this step; none of them stop the connector.
func (c *Connector) Step(ctx context.Context, now time.Time) error {
	if !c.State().IsRunning() {
		return ErrNotStarted
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseCancelled()
	defer c.releaseCancelled()

	var errs []error
	if err := c.transports.Poll(ctx, now); err != nil {
		errs = append(errs, err)
	}

	kinds := c.transports.Kinds()
	for _, kind := range kinds {
		if err := c.receive(c.channels[kind], now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}

	c.sessions.Expire(now)
	for _, kind := range kinds {
		if n := c.channels[kind].reasm.Prune(now.Add(-c.config.ReassemblyTimeout)); n > 0 && c.log != nil {
			c.log.Debugf("%s: dropped %d incomplete messages", kind, n)
		}
	}

	if c.rekey.Swap(false) {
		for _, kind := range kinds {
			c.channels[kind].announce = true
		}
	}
	for _, kind := range kinds {
		if err := c.send(c.channels[kind], now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

// Register adds a facility. It must be called before Start.
func (c *Connector) Register(f facility.Facility) error {
	return c.dispatcher.Register(f)
}

// OpenSession opens a device session for serviceID on kind. The
// facility is asked for the request on the next Step.
func (c *Connector) OpenSession(kind transport.Kind, serviceID uint8, opts session.OpenOptions) (*session.Session, error) {
	if !c.State().IsRunning() {
		return nil, ErrNotStarted
	}
	if c.channels[kind] == nil {
		return nil, ErrNotConfigured
	}
	s, err := c.open(kind, serviceID, opts)
	if err != nil {
		return nil, err
	}
	c.poke()
	return s, nil
}

// open wraps session.Manager.Open. Running out of request ids under the
// current key invalidates it so the cloud issues a new one.
func (c *Connector) open(kind transport.Kind, serviceID uint8, opts session.OpenOptions) (*session.Session, error) {
	s, err := c.sessions.Open(kind, serviceID, opts)
	if errors.Is(err, encryption.ErrRekeyRequired) && c.config.Keys.HaveKey() {
		if c.log != nil {
			c.log.Warnf("%s request ids exhausted, requesting a new key", kind)
		}
		c.config.Keys.InvalidateKey()
		c.rekey.Store(true)
	}
	return s, err
}

// SendPing pings the cloud on kind and returns the request id. The
// outcome is reported through Config.Ping.OnResponse with userContext.
func (c *Connector) SendPing(kind transport.Kind, responseRequired bool, timeout time.Duration, userContext any) (uint16, error) {
	opts := session.OpenOptions{
		ResponseRequired: responseRequired,
		UserContext:      userContext,
	}
	if timeout > 0 {
		opts.Deadline = c.config.Now().Add(timeout)
	}
	s, err := c.OpenSession(kind, uint8(message.CommandPing), opts)
	if err != nil {
		return 0, err
	}
	return s.RequestID(), nil
}

// SendData queues b for upload on kind. The outcome is reported through
// Config.Data.OnResult.
func (c *Connector) SendData(kind transport.Kind, b *data.Batch) error {
	if !c.State().IsRunning() {
		return ErrNotStarted
	}
	if c.channels[kind] == nil {
		return ErrNotConfigured
	}
	c.data.Push(kind, b)
	c.poke()
	return nil
}

// CancelSession cancels the device session with requestID on kind. It
// reports whether a live session was cancelled. The session is retired
// at once; its facility is freed on the step goroutine. CancelSession
// may be called from facility callbacks.
func (c *Connector) CancelSession(kind transport.Kind, requestID uint16) bool {
	s := c.sessions.Lookup(kind, session.OriginDevice, requestID)
	if s == nil {
		return false
	}
	return c.retire(s)
}

// CancelAll cancels every session on kind and returns how many were
// cancelled. Like CancelSession it may be called from facility callbacks.
func (c *Connector) CancelAll(kind transport.Kind) int {
	count := 0
	for _, s := range c.sessions.Sessions(kind) {
		if c.retire(s) {
			count++
		}
	}
	return count
}

// retire cancels s without the step lock. The pin taken here defers the
// free until releaseCancelled runs under the step lock.
func (c *Connector) retire(s *session.Session) bool {
	if !c.sessions.Acquire(s) {
		return false
	}
	ok := c.sessions.CancelSession(s)
	c.cancelMu.Lock()
	c.cancelled = append(c.cancelled, s)
	c.cancelMu.Unlock()
	c.poke()
	return ok
}

// releaseCancelled drops the pins taken by retire. The caller holds the
// step lock.
func (c *Connector) releaseCancelled() {
	c.cancelMu.Lock()
	pending := c.cancelled
	c.cancelled = nil
	c.cancelMu.Unlock()
	for _, s := range pending {
		c.sessions.Release(s)
	}
}

// StartTransport connects a transport that was stopped or is manual.
func (c *Connector) StartTransport(kind transport.Kind) error {
	if !c.State().IsRunning() {
		return ErrNotStarted
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTransport(kind)
}

// startTransport runs under the step lock.
func (c *Connector) startTransport(kind transport.Kind) error {
	ch := c.channels[kind]
	if ch == nil {
		return ErrNotConfigured
	}
	if ch.lc.State() == transport.StateTerminate {
		if err := ch.lc.Start(); err != nil {
			return err
		}
	}
	if ch.lc.State() != transport.StateIdle {
		return nil
	}
	return ch.lc.Connect(c.ctx)
}

// StopTransport closes a transport. With reconnect it comes back after
// its reconnect delay.
func (c *Connector) StopTransport(kind transport.Kind, reconnect bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.channels[kind]
	if ch == nil {
		return ErrNotConfigured
	}
	return ch.lc.Close(reconnect)
}

// Redirect reconnects an open transport to addr.
func (c *Connector) Redirect(kind transport.Kind, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.channels[kind]
	if ch == nil {
		return ErrNotConfigured
	}
	return ch.lc.Redirect(c.ctx, addr)
}

// TransportState returns the lifecycle state of kind.
func (c *Connector) TransportState(kind transport.Kind) (transport.State, error) {
	if c.channels[kind] == nil {
		return transport.StateIdle, ErrNotConfigured
	}
	return c.transports.State(kind)
}

// ConfigState returns the key-exchange state of kind.
func (c *Connector) ConfigState(kind transport.Kind) smconfig.State {
	return c.smconfig.State(kind)
}

// Sessions returns the number of sessions holding a request id on kind.
func (c *Connector) Sessions(kind transport.Kind) int {
	return c.sessions.Count(kind)
}

// SetMaxSessions changes the session limit of kind.
func (c *Connector) SetMaxSessions(kind transport.Kind, n int) error {
	if !c.config.Unlocked {
		return ErrLocked
	}
	if c.channels[kind] == nil {
		return ErrNotConfigured
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.SetMaxSessions(kind, n)
}

// SetReconnectDelay changes the reconnect delay of kind.
func (c *Connector) SetReconnectDelay(kind transport.Kind, d time.Duration) error {
	if !c.config.Unlocked {
		return ErrLocked
	}
	ch := c.channels[kind]
	if ch == nil {
		return ErrNotConfigured
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ch.lc.SetReconnectDelay(d)
	return nil
}

// onStateChange keeps the channel in step with its lifecycle. It runs
// under the step lock.
func (c *Connector) onStateChange(kind transport.Kind, from, to transport.State, err error) {
	ch := c.channels[kind]
	switch to {
	case transport.StateOpen:
		if from == transport.StateIdle || from == transport.StateRedirect {
			ch.reset()
			c.smconfig.Reset(kind)
			if c.log != nil {
				c.log.Infof("%s connected", kind)
			}
		}
	case transport.StateClose:
		n := c.sessions.CancelAll(kind)
		ch.outbox = nil
		if c.log != nil {
			c.log.Infof("%s closing, cancelled %d sessions (cause: %v)", kind, n, err)
		}
	}
	if c.config.OnStateChange != nil {
		c.config.OnStateChange(kind, from, to, err)
	}
}

func (c *Connector) onWrap(kind transport.Kind) {
	if c.log != nil {
		c.log.Infof("%s request ids wrapped", kind)
	}
}

// notifier forwards session events to the dispatcher and drops the
// connector's per-session state on free.
type notifier struct {
	c *Connector
}

func (n notifier) OnError(s *session.Session, err error) {
	n.c.dispatcher.OnError(s, err)
}

func (n notifier) OnFree(s *session.Session) {
	delete(n.c.partial, s)
	n.c.dispatcher.OnFree(s)
}

func (n notifier) OnWrap(kind transport.Kind) {
	n.c.dispatcher.OnWrap(kind)
}
