package connector

import (
	"time"

	"github.com/backkem/cloudconnector/pkg/crypto"
	"github.com/backkem/cloudconnector/pkg/encryption"
	"github.com/backkem/cloudconnector/pkg/facility"
	"github.com/backkem/cloudconnector/pkg/message"
	"github.com/backkem/cloudconnector/pkg/services/cli"
	"github.com/backkem/cloudconnector/pkg/services/data"
	"github.com/backkem/cloudconnector/pkg/services/opaque"
	"github.com/backkem/cloudconnector/pkg/services/ping"
	"github.com/backkem/cloudconnector/pkg/session"
	"github.com/backkem/cloudconnector/pkg/transport"
	"github.com/pion/logging"
)

// Defaults.
const (
	// DefaultStepInterval is the Run ticker period.
	DefaultStepInterval = 100 * time.Millisecond

	// DefaultReassemblyTimeout drops partial multipart messages that saw
	// no segment for this long.
	DefaultReassemblyTimeout = time.Minute

	// DefaultMaxSegments is the segment limit of the short-message
	// transports. The primary session sends single segments.
	DefaultMaxSegments = 4
)

// TransportConfig configures one transport.
type TransportConfig struct {
	// Link carries the transport's units. Required.
	Link transport.Link

	// MaxSessions limits concurrent sessions.
	// Default: session.DefaultMaxSessions
	MaxSessions int

	// MaxSegments limits the segments of one message.
	// Default: DefaultMaxSegments, 1 for TCP
	MaxSegments int

	// SharedKey is the SMS preamble key. SMS only.
	SharedKey string

	// ReconnectDelay is the wait between a close and the next connect.
	// Default: transport.DefaultReconnectDelay
	ReconnectDelay time.Duration

	// KeepAlive sends a ping when nothing was sent for this long.
	// Zero disables keep-alives.
	KeepAlive time.Duration

	// Manual keeps the transport down until StartTransport or a cloud
	// connect request.
	Manual bool

	// DisablePack sends every segment in its own unit.
	DisablePack bool
}

// Config configures a Connector.
type Config struct {
	// Transports. At least one is required.
	TCP *TransportConfig
	UDP *TransportConfig
	SMS *TransportConfig

	// DeviceID addresses UDP datagrams. If nil it is taken from Keys
	// after Load.
	DeviceID []byte

	// Keys encrypts the UDP and SMS transports. If nil short messages
	// travel in the clear and the device does not offer encryption.
	Keys *encryption.Engine

	// Compression enables zlib payload compression.
	Compression bool

	// Unlocked allows SetMaxSessions and SetReconnectDelay at runtime.
	Unlocked bool

	// StepInterval is the Run ticker period.
	// Default: DefaultStepInterval
	StepInterval time.Duration

	// ReassemblyTimeout bounds the wait for missing segments.
	// Default: DefaultReassemblyTimeout
	ReassemblyTimeout time.Duration

	// Now returns the current time for Run.
	// Default: time.Now
	Now func() time.Time

	// Service configuration.
	Ping   ping.Config
	Data   data.Config
	Opaque opaque.Config

	// CLI enables the command line service. Nil disables it.
	CLI *cli.Config

	// AllowConnect decides whether a cloud connect request starts TCP.
	// Default: allow
	AllowConnect func(kind transport.Kind) bool

	// Facilities are registered next to the built-in services.
	Facilities []facility.Facility

	// OnStateChange observes transport lifecycle transitions. Optional.
	OnStateChange transport.StateChangeFunc

	// LoggerFactory is the factory for creating loggers. It is passed to
	// every component whose own factory is unset.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// transport returns the configuration of kind, or nil.
func (c *Config) transport(kind transport.Kind) *TransportConfig {
	switch kind {
	case transport.KindTCP:
		return c.TCP
	case transport.KindUDP:
		return c.UDP
	case transport.KindSMS:
		return c.SMS
	default:
		return nil
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TCP == nil && c.UDP == nil && c.SMS == nil {
		return ErrNoTransports
	}
	for _, kind := range transport.Kinds {
		t := c.transport(kind)
		if t == nil {
			continue
		}
		if t.Link == nil {
			return ErrLinkRequired
		}
		if t.MaxSegments < 0 || t.MaxSegments > message.MaxSegments {
			return ErrInvalidSegments
		}
	}
	if c.DeviceID != nil && len(c.DeviceID) != crypto.DeviceIDSize {
		return ErrInvalidDeviceID
	}
	if c.UDP != nil && c.DeviceID == nil && c.Keys == nil {
		return ErrDeviceIDRequired
	}
	return nil
}

// applyDefaults fills in default values for unset fields. Transport
// configurations are copied so the caller's values stay untouched.
func (c *Config) applyDefaults() {
	if c.StepInterval <= 0 {
		c.StepInterval = DefaultStepInterval
	}
	if c.ReassemblyTimeout <= 0 {
		c.ReassemblyTimeout = DefaultReassemblyTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	for _, p := range []**TransportConfig{&c.TCP, &c.UDP, &c.SMS} {
		if *p == nil {
			continue
		}
		t := **p
		if t.MaxSessions <= 0 {
			t.MaxSessions = session.DefaultMaxSessions
		}
		if t.ReconnectDelay <= 0 {
			t.ReconnectDelay = transport.DefaultReconnectDelay
		}
		*p = &t
	}
	if c.TCP != nil && c.TCP.MaxSegments == 0 {
		c.TCP.MaxSegments = 1
	}
	for _, t := range []*TransportConfig{c.UDP, c.SMS} {
		if t != nil && t.MaxSegments == 0 {
			t.MaxSegments = DefaultMaxSegments
		}
	}

	if c.Ping.LoggerFactory == nil {
		c.Ping.LoggerFactory = c.LoggerFactory
	}
	if c.Data.LoggerFactory == nil {
		c.Data.LoggerFactory = c.LoggerFactory
	}
	if c.Opaque.LoggerFactory == nil {
		c.Opaque.LoggerFactory = c.LoggerFactory
	}
	if c.CLI != nil {
		cfg := *c.CLI
		if cfg.LoggerFactory == nil {
			cfg.LoggerFactory = c.LoggerFactory
		}
		c.CLI = &cfg
	}
}
