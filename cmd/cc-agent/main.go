// cc-agent connects a device to the cloud over TCP, UDP and SMS.
//
// Usage:
//
//	cc-agent [options]
//
// Options:
//
//	--config     Path to the TOML configuration (default: /etc/cc-agent.toml)
//	--log-level  Overrides log_level from the configuration
//	--device-id  Overrides device_id from the configuration
//
// Example:
//
//	cc-agent --config ./cc.toml --log-level debug
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/backkem/cloudconnector/pkg/config"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "/etc/cc-agent.toml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		logLevel   string
		deviceID   string
	)
	flagSet := pflag.NewFlagSet("cc-agent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", DefaultConfigPath, "path to the TOML configuration")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: error, warn, info, debug or trace")
	flagSet.StringVar(&deviceID, "device-id", "", "16-byte device id in hex")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintln(os.Stderr, "Usage: cc-agent [options]")
		flagSet.PrintDefaults()
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flagSet.Changed("device-id") {
		cfg.DeviceID = deviceID
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newAgent(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx)
}
