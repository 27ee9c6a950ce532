package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/cloudconnector/pkg/config"
	"github.com/backkem/cloudconnector/pkg/connector"
	"github.com/backkem/cloudconnector/pkg/crypto"
	"github.com/backkem/cloudconnector/pkg/encryption"
	"github.com/backkem/cloudconnector/pkg/keystore"
	"github.com/backkem/cloudconnector/pkg/services/cli"
	"github.com/backkem/cloudconnector/pkg/services/data"
	"github.com/backkem/cloudconnector/pkg/services/opaque"
	"github.com/backkem/cloudconnector/pkg/services/ping"
	"github.com/backkem/cloudconnector/pkg/transport"
)

// agent owns the connector and the resources it was built from.
type agent struct {
	cfg   *config.Config
	log   logging.LeveledLogger
	store keystore.Store
	keys  *encryption.Engine
	conn  *connector.Connector
}

func newAgent(cfg *config.Config) (*agent, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = level

	deviceID, err := cfg.DeviceIDBytes()
	if err != nil {
		return nil, err
	}

	a := &agent{cfg: cfg, log: factory.NewLogger("agent")}
	a.store, err = keystore.Open(keystore.Options{
		Backend:  cfg.Keystore.Backend,
		Path:     cfg.Keystore.Path,
		Secret:   []byte(cfg.Keystore.Secret),
		DeviceID: deviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}

	if cfg.Encryption {
		var classes []crypto.TransportClass
		if cfg.UDP.Enabled {
			classes = append(classes, crypto.ClassUDP)
		}
		if cfg.SMS.Enabled {
			classes = append(classes, crypto.ClassSMS)
		}
		a.keys, err = encryption.NewEngine(encryption.Config{
			Provider:      encryption.NewSoftwareProvider(a.store),
			DeviceID:      deviceID,
			Classes:       classes,
			Role:          encryption.RoleDevice,
			LoggerFactory: factory,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	ccfg := connector.Config{
		DeviceID:      deviceID,
		Keys:          a.keys,
		Compression:   cfg.Compression,
		Unlocked:      cfg.Unlocked,
		StepInterval:  cfg.StepInterval.Duration,
		LoggerFactory: factory,
		Ping: ping.Config{
			OnResponse: func(r ping.Response) {
				a.log.Debugf("ping %d on %s: %s", r.RequestID, r.Kind, r.Status)
			},
		},
		Data: data.Config{
			OnResult: func(r data.Result) {
				a.log.Infof("data %d on %s: %s", r.RequestID, r.Kind, r.Status)
			},
		},
		Opaque: opaque.Config{
			OnResponse: func(r opaque.Response) {
				a.log.Infof("late response %d on %s (%d bytes)", r.RequestID, r.Kind, len(r.Payload))
			},
		},
		OnStateChange: func(kind transport.Kind, from, to transport.State, err error) {
			if err != nil {
				a.log.Warnf("%s: %s -> %s: %v", kind, from, to, err)
			}
		},
	}
	if cfg.CLI.Enabled {
		ccfg.CLI = &cli.Config{
			Runner:  &cli.ShellRunner{Shell: cfg.CLI.Shell, GracePeriod: time.Second},
			Timeout: cfg.CLI.Timeout.Duration,
		}
	}

	if err := a.buildTransports(&ccfg, factory); err != nil {
		a.Close()
		return nil, err
	}
	a.conn, err = connector.New(ccfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func transportConfig(t *config.Transport, link transport.Link) *connector.TransportConfig {
	return &connector.TransportConfig{
		Link:           link,
		MaxSessions:    t.MaxSessions,
		MaxSegments:    t.MaxSegments,
		SharedKey:      t.SharedKey,
		ReconnectDelay: t.ReconnectDelay.Duration,
		KeepAlive:      t.KeepAlive.Duration,
		Manual:         t.Manual(),
		DisablePack:    !t.Packing(),
	}
}

func (a *agent) buildTransports(ccfg *connector.Config, factory logging.LoggerFactory) error {
	cfg := a.cfg
	if cfg.TCP.Enabled {
		link, err := transport.NewTCPLink(transport.TCPConfig{
			Address:       cfg.TCP.Address,
			LoggerFactory: factory,
		})
		if err != nil {
			return fmt.Errorf("tcp: %w", err)
		}
		ccfg.TCP = transportConfig(&cfg.TCP, link)
	}
	if cfg.UDP.Enabled {
		link, err := transport.NewUDPLink(transport.UDPConfig{
			RemoteAddr:    cfg.UDP.Address,
			MaxSize:       cfg.UDP.MaxSize,
			LoggerFactory: factory,
		})
		if err != nil {
			return fmt.Errorf("udp: %w", err)
		}
		ccfg.UDP = transportConfig(&cfg.UDP, link)
	}
	if cfg.SMS.Enabled {
		link, err := transport.NewSMSLink(transport.SMSConfig{
			Address:       cfg.SMS.Address,
			PhoneNumber:   cfg.SMS.Phone,
			MaxSize:       cfg.SMS.MaxSize,
			LoggerFactory: factory,
		})
		if err != nil {
			return fmt.Errorf("sms: %w", err)
		}
		ccfg.SMS = transportConfig(&cfg.SMS, link)
	}
	return nil
}

// Run starts the connector, prints the device summary and steps it until
// ctx is cancelled.
func (a *agent) Run(ctx context.Context) error {
	if err := a.conn.Start(ctx); err != nil {
		return fmt.Errorf("start connector: %w", err)
	}
	a.printInfo()
	err := a.conn.Run(ctx)
	a.log.Info("shutting down")
	return err
}

// Close releases the keystore.
func (a *agent) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warnf("close keystore: %v", err)
	}
	a.store = nil
}

func (a *agent) printInfo() {
	id := a.cfg.DeviceID
	if a.keys != nil {
		id = hex.EncodeToString(a.keys.DeviceID())
	}

	fmt.Println("\n========================================")
	fmt.Println("         Cloud Connector Agent")
	fmt.Println("========================================")
	fmt.Printf("Device ID:      %s\n", id)
	fmt.Printf("Vendor ID:      %#08x\n", a.cfg.VendorID)
	fmt.Printf("Cloud:          %s\n", a.cfg.URL)
	fmt.Printf("Encryption:     %t\n", a.keys != nil)
	fmt.Printf("Compression:    %t\n", a.cfg.Compression)
	fmt.Println("----------------------------------------")
	for _, kind := range transport.Kinds {
		state, err := a.conn.TransportState(kind)
		if err != nil {
			continue
		}
		fmt.Printf("%-15s %s\n", kind.String()+":", state)
	}
	fmt.Println("========================================")
}
