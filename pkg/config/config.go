// Package config loads the agent configuration from a TOML file.
//
// A minimal file enables one transport:
//
//	url = "cloud.example.com"
//	log_level = "info"
//
//	[udp]
//	enabled = true
//	keep_alive = "75s"
//
// Durations are Go duration strings. Transport addresses default to the
// cloud url with the transport's well-known port.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pion/logging"
)

// Defaults.
const (
	DefaultTCPPort = 3197
	DefaultUDPPort = 3297

	DefaultLogLevel = "error"

	MinKeepAlive = 5 * time.Second
	MaxKeepAlive = 2 * time.Hour
)

// Keystore backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Duration is a time.Duration read from a duration string.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Transport configures one transport section.
type Transport struct {
	Enabled bool `toml:"enabled"`

	// Address is host:port of the cloud endpoint, or of the SMS gateway.
	Address string `toml:"address"`

	// Phone is the cloud's SMS number. SMS only.
	Phone string `toml:"phone"`

	// SharedKey is the SMS preamble key. SMS only.
	SharedKey string `toml:"shared_key"`

	// AutoConnect connects on start. When false the transport waits for
	// a cloud connect request. Default: true
	AutoConnect *bool `toml:"auto_connect"`

	MaxSessions    int      `toml:"max_sessions"`
	MaxSegments    int      `toml:"max_segments"`
	MaxSize        int      `toml:"max_size"`
	ReconnectDelay Duration `toml:"reconnect_delay"`
	KeepAlive      Duration `toml:"keep_alive"`

	// Pack bundles segments on UDP and SMS. Default: true
	Pack *bool `toml:"pack"`
}

// Manual reports whether the transport waits for an explicit start.
func (t *Transport) Manual() bool {
	return t.AutoConnect != nil && !*t.AutoConnect
}

// Packing reports whether segments may be bundled.
func (t *Transport) Packing() bool {
	return t.Pack == nil || *t.Pack
}

// Keystore selects the persistent store for key material.
type Keystore struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	Secret  string `toml:"secret"`
}

// CLI configures the remote command line service.
type CLI struct {
	Enabled bool     `toml:"enabled"`
	Shell   string   `toml:"shell"`
	Timeout Duration `toml:"timeout"`
}

// Config is the agent configuration.
type Config struct {
	// DeviceID is the 16-byte device id in hex. Empty loads it from the
	// keystore.
	DeviceID string `toml:"device_id"`

	VendorID   uint32 `toml:"vendor_id"`
	DeviceType string `toml:"device_type"`

	// URL is the cloud host used for transports without an address.
	URL string `toml:"url"`

	Encryption  bool `toml:"encryption"`
	Compression bool `toml:"compression"`

	// Unlocked allows runtime changes of session limits and reconnect
	// delays.
	Unlocked bool `toml:"unlocked"`

	LogLevel     string   `toml:"log_level"`
	StepInterval Duration `toml:"step_interval"`

	TCP Transport `toml:"tcp"`
	UDP Transport `toml:"udp"`
	SMS Transport `toml:"sms"`

	Keystore Keystore `toml:"keystore"`
	CLI      CLI      `toml:"cli"`
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	c := &Config{}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes and validates a configuration document.
func Parse(doc string) (*Config, error) {
	c := &Config{}
	if _, err := toml.Decode(doc, c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Keystore.Backend == "" {
		c.Keystore.Backend = BackendMemory
	}
	if c.URL != "" {
		if c.TCP.Address == "" {
			c.TCP.Address = net.JoinHostPort(c.URL, strconv.Itoa(DefaultTCPPort))
		}
		if c.UDP.Address == "" {
			c.UDP.Address = net.JoinHostPort(c.URL, strconv.Itoa(DefaultUDPPort))
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !c.TCP.Enabled && !c.UDP.Enabled && !c.SMS.Enabled {
		return ErrNoTransports
	}
	if c.DeviceID != "" {
		if _, err := c.DeviceIDBytes(); err != nil {
			return err
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}

	for _, t := range []struct {
		name string
		t    *Transport
	}{{"tcp", &c.TCP}, {"udp", &c.UDP}, {"sms", &c.SMS}} {
		if !t.t.Enabled {
			continue
		}
		if t.t.Address == "" {
			return fmt.Errorf("%w: %s", ErrMissingAddress, t.name)
		}
		if ka := t.t.KeepAlive.Duration; ka != 0 && (ka < MinKeepAlive || ka > MaxKeepAlive) {
			return fmt.Errorf("%w: %s %v", ErrInvalidKeepAlive, t.name, ka)
		}
	}
	if c.SMS.Enabled && c.SMS.Phone == "" {
		return ErrMissingPhone
	}
	if c.Encryption && !c.UDP.Enabled && !c.SMS.Enabled {
		return ErrEncryptionUnsupported
	}

	switch c.Keystore.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if c.Keystore.Path == "" {
			return ErrMissingPath
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Keystore.Backend)
	}
	return nil
}

// DeviceIDBytes decodes DeviceID. It returns nil for an empty id.
func (c *Config) DeviceIDBytes() ([]byte, error) {
	if c.DeviceID == "" {
		return nil, nil
	}
	id, err := hex.DecodeString(strings.ReplaceAll(c.DeviceID, "-", ""))
	if err != nil || len(id) != 16 {
		return nil, ErrInvalidDeviceID
	}
	return id, nil
}

// Level returns the pion log level named by LogLevel.
func (c *Config) Level() (logging.LogLevel, error) {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps a level name to a pion log level.
func ParseLevel(name string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("%w: %q", ErrInvalidLogLevel, name)
	}
}
