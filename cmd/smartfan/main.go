// Command smartfan connects to a Homewerks smart fan on the local network
// and keeps its state in sync.
//
// It supports:
//   - YAML configuration with SMARTFAN_* environment overrides
//   - Address recovery by UDN after DHCP changes
//   - An optional MQTT bridge for state and commands
//   - CBOR protocol capture, readable with smartfan-log
//   - An interactive shell
//
// Usage:
//
//	smartfan [flags]
//
// Flags:
//
//	-config string      Configuration file path
//	-host string        Device IP address (overrides config)
//	-udn string         Device UDN (overrides config)
//	-log-level string   Log level: debug, info, warn, error
//	-capture string     Write a CBOR protocol capture to this file
//	-scan               List fans on the LAN and exit
//	-interactive        Enable interactive command mode
//
// Examples:
//
//	# Find fans on the LAN
//	smartfan -scan
//
//	# Connect by address with an interactive shell
//	smartfan -host 192.168.1.50 -interactive
//
//	# Run as a daemon bridging to MQTT
//	smartfan -config /etc/smartfan/smartfan.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/homewerks-local/smartfan-go/cmd/smartfan/interactive"
	"github.com/homewerks-local/smartfan-go/internal/config"
	"github.com/homewerks-local/smartfan-go/internal/logging"
	mqttbridge "github.com/homewerks-local/smartfan-go/pkg/bridge/mqtt"
	"github.com/homewerks-local/smartfan-go/pkg/connection"
	"github.com/homewerks-local/smartfan-go/pkg/device"
	"github.com/homewerks-local/smartfan-go/pkg/discovery"
	"github.com/homewerks-local/smartfan-go/pkg/identity"
	plog "github.com/homewerks-local/smartfan-go/pkg/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Flags holds command-line options. Non-empty values override the
// configuration file.
type Flags struct {
	ConfigFile  string
	Host        string
	UDN         string
	LogLevel    string
	CapturePath string
	Scan        bool
	Interactive bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.Host, "host", "", "Device IP address (overrides config)")
	flag.StringVar(&flags.UDN, "udn", "", "Device UDN (overrides config)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.CapturePath, "capture", "", "Write a CBOR protocol capture to this file")
	flag.BoolVar(&flags.Scan, "scan", false, "List fans on the LAN and exit")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
}

func main() {
	flag.Parse()

	cfg, err := config.Parse(flags.ConfigFile)
	if err != nil {
		fatal("Failed to load configuration: %v", err)
	}
	applyFlags(cfg, flags)

	out := &switchWriter{w: os.Stderr}
	if strings.ToLower(cfg.Logging.Output) == "stdout" {
		out.w = os.Stdout
	}
	logger := logging.NewWithWriter(cfg.Logging, version, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var svc *discovery.Service
	if cfg.Discovery.Enabled || flags.Scan {
		svc = discovery.NewService(discovery.ServiceConfig{
			Source:      buildSource(cfg.Discovery, logger),
			Timeout:     cfg.DiscoveryTimeout(),
			Concurrency: cfg.Discovery.Concurrency,
			Logger:      logger.With("component", "discovery"),
		})
	}

	if flags.Scan {
		os.Exit(runScan(ctx, svc, cfg.DiscoveryTimeout()))
	}

	if err := cfg.Validate(); err != nil {
		fatal("Invalid configuration: %v", err)
	}

	var store *identity.Store
	if cfg.Device.IdentityFile != "" {
		store = identity.NewStore(cfg.Device.IdentityFile)
	}
	id := loadIdentity(cfg, store, logger)

	if id.Address == "" {
		logger.Info("no address known, resolving by UDN", "udn", id.UDN)
		host, err := svc.Resolve(ctx, id.UDN, "")
		if err != nil {
			fatal("Failed to locate device %s: %v", id.UDN, err)
		}
		id = id.WithAddress(host)
	}

	protocolLogger, closeCapture := buildProtocolLogger(cfg, logger)
	defer closeCapture()

	initial, maximum := cfg.BackoffDelays()
	devConfig := device.Config{
		Identity:         id,
		PollInterval:     cfg.PollInterval(),
		KeepaliveTimeout: cfg.KeepaliveTimeout(),
		ConnectTimeout:   cfg.ConnectTimeout(),
		Backoff: connection.BackoffConfig{
			Initial: initial,
			Max:     maximum,
			Jitter:  cfg.Connection.Backoff.Jitter,
		},
		Logger:         logger,
		ProtocolLogger: protocolLogger,
	}
	// Leave interface fields nil rather than typed-nil pointers.
	if svc != nil {
		devConfig.Discovery = svc
	}
	if store != nil {
		devConfig.Persister = store
	}

	client, err := device.New(devConfig)
	if err != nil {
		fatal("Failed to create device client: %v", err)
	}
	client.OnIdentityChanged(func(id identity.DeviceIdentity) {
		logger.Info("device identity changed", "address", id.Address, "udn", id.UDN)
	})

	logger.Info("starting", "version", version, "device", id.HostPort(), "udn", id.UDN)
	if err := client.Start(ctx); err != nil {
		fatal("Failed to start device client: %v", err)
	}

	var bridge *mqttbridge.Bridge
	var broker *mqttbridge.Client
	if cfg.MQTT.Enabled {
		broker, bridge = startBridge(ctx, cfg, client, logger)
	}

	if flags.Interactive {
		shell, err := interactive.New(client, scannerFor(svc), cfg.DiscoveryTimeout())
		if err != nil {
			fatal("Failed to create interactive shell: %v", err)
		}
		// Route log output through readline to keep the prompt intact.
		out.Set(shell.Stdout())
		go shell.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if bridge != nil {
		bridge.Stop()
	}
	if broker != nil {
		broker.Close()
	}
	if err := client.Close(); err != nil {
		logger.Warn("error closing device client", "error", err)
	}
	cancel()
}

func applyFlags(cfg *config.Config, f Flags) {
	if f.Host != "" {
		cfg.Device.Host = f.Host
	}
	if f.UDN != "" {
		cfg.Device.UDN = f.UDN
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(f.LogLevel)
	}
	if f.CapturePath != "" {
		cfg.Capture.Enabled = true
		cfg.Capture.Path = f.CapturePath
	}
}

// buildSource combines the configured candidate sources.
func buildSource(cfg config.DiscoveryConfig, logger *slog.Logger) discovery.Source {
	logger = logger.With("component", "discovery")
	var sources discovery.MultiSource
	for _, name := range cfg.Sources {
		switch name {
		case "ssdp":
			sources = append(sources, discovery.NewSSDPSource(discovery.SSDPConfig{Logger: logger}))
		case "mdns":
			sources = append(sources, discovery.NewMDNSSource(discovery.MDNSConfig{
				Interface: cfg.Interface,
				Logger:    logger,
			}))
		case "subnet":
			sources = append(sources, discovery.NewSubnetSource(discovery.SubnetConfig{
				Prefix:      cfg.Subnet,
				Concurrency: cfg.Concurrency,
				Logger:      logger,
			}))
		}
	}
	if len(sources) == 0 {
		return discovery.DefaultSource(logger)
	}
	return sources
}

// loadIdentity merges the identity file over the configured device. The
// file wins because it holds the most recently confirmed address, unless
// it belongs to a different UDN.
func loadIdentity(cfg *config.Config, store *identity.Store, logger *slog.Logger) identity.DeviceIdentity {
	id := identity.DeviceIdentity{UDN: cfg.Device.UDN, Address: cfg.Device.Host, Port: cfg.Device.Port}
	if store == nil {
		return id
	}

	rec, err := store.Load()
	if err != nil {
		logger.Warn("ignoring unreadable identity file", "path", store.Path(), "error", err)
		return id
	}
	if rec == nil {
		return id
	}

	stored := identity.MigrateIdentity(*rec)
	if id.UDN != "" && stored.UDN != "" && !discovery.SameUDN(id.UDN, stored.UDN) {
		logger.Warn("identity file belongs to another device, ignoring",
			"path", store.Path(), "configured", id.UDN, "stored", stored.UDN)
		return id
	}
	if stored.UDN == "" {
		stored.UDN = id.UDN
	}
	if stored.Address == "" {
		stored.Address = id.Address
	}
	logger.Debug("loaded identity", "path", store.Path(), "version", rec.Version,
		"address", stored.Address, "udn", stored.UDN)
	return stored
}

// buildProtocolLogger returns the capture logger and a function closing it.
// The logger is nil when neither capture nor debug logging is enabled.
func buildProtocolLogger(cfg *config.Config, logger *slog.Logger) (plog.Logger, func()) {
	var loggers []plog.Logger
	closeFn := func() {}

	if cfg.Capture.Enabled {
		fl, err := plog.NewFileLogger(cfg.Capture.Path)
		if err != nil {
			logger.Warn("protocol capture disabled", "path", cfg.Capture.Path, "error", err)
		} else {
			logger.Info("capturing protocol events", "path", cfg.Capture.Path)
			loggers = append(loggers, fl)
			closeFn = func() {
				if err := fl.Close(); err != nil {
					logger.Warn("error closing capture file", "error", err)
				}
			}
		}
	}
	if strings.ToLower(cfg.Logging.Level) == "debug" {
		loggers = append(loggers, plog.NewSlogAdapter(logger.With("component", "protocol")))
	}

	if len(loggers) == 0 {
		return nil, closeFn
	}
	return plog.NewMultiLogger(loggers...), closeFn
}

func startBridge(ctx context.Context, cfg *config.Config, client *device.Client, logger *slog.Logger) (*mqttbridge.Client, *mqttbridge.Bridge) {
	initial, maximum := cfg.BackoffDelays()
	broker, err := mqttbridge.Connect(mqttbridge.Config{
		Host:                 cfg.MQTT.Broker.Host,
		Port:                 cfg.MQTT.Broker.Port,
		ClientID:             cfg.MQTT.Broker.ClientID,
		Username:             cfg.MQTT.Auth.Username,
		Password:             cfg.MQTT.Auth.Password,
		QoS:                  byte(cfg.MQTT.QoS),
		TopicPrefix:          cfg.MQTT.TopicPrefix,
		ConnectRetryInterval: initial,
		MaxReconnectInterval: maximum,
		Logger:               logger,
	})
	if err != nil {
		logger.Error("MQTT bridge disabled", "error", err)
		return nil, nil
	}

	bridge := mqttbridge.NewBridge(broker, client, mqttbridge.BridgeConfig{
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         byte(cfg.MQTT.QoS),
		Logger:      logger,
	})
	if err := bridge.Start(ctx); err != nil {
		logger.Error("MQTT bridge disabled", "error", err)
		broker.Close()
		return nil, nil
	}
	return broker, bridge
}

func runScan(ctx context.Context, svc *discovery.Service, timeout time.Duration) int {
	fmt.Printf("Scanning for smart fans (up to %s)...\n", timeout)
	found, err := svc.Scan(ctx, timeout)
	if err != nil && !errors.Is(err, discovery.ErrDiscoveryTimeout) {
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
		return 1
	}
	if len(found) == 0 {
		fmt.Println("No devices found")
		return 1
	}
	for _, d := range found {
		fmt.Printf("%-15s  %-24s  %s\n", d.Host, d.FriendlyName, d.UDN)
	}
	return 0
}

// scannerFor avoids handing the shell a typed-nil Scanner.
func scannerFor(svc *discovery.Service) interactive.Scanner {
	if svc == nil {
		return nil
	}
	return svc
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// switchWriter lets log output move to the readline writer once the shell
// exists.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Set replaces the destination.
func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}
