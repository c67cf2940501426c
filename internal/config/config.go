package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Connection ConnectionConfig `yaml:"connection"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Logging    LoggingConfig    `yaml:"logging"`
	Capture    CaptureConfig    `yaml:"capture"`
}

// DeviceConfig identifies the fan.
type DeviceConfig struct {
	// Host is the last known IPv4 address. May be empty when UDN is set
	// and discovery is enabled.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// UDN is the stable identifier, e.g. "uuid:FF31F09E-...".
	UDN string `yaml:"udn"`

	// Name is a display name; discovery's friendlyName is used if empty.
	Name string `yaml:"name"`

	// IdentityFile persists the identity record across restarts.
	IdentityFile string `yaml:"identity_file"`
}

// DiscoveryConfig controls LAN discovery.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sources lists candidate sources: ssdp, mdns, subnet.
	Sources []string `yaml:"sources"`

	// Subnet is the /24 prefix to sweep, e.g. "192.168.1". Empty detects it.
	Subnet string `yaml:"subnet"`

	// Interface restricts mDNS to one network interface.
	Interface string `yaml:"interface"`

	// Timeout bounds a scan, in seconds.
	Timeout int `yaml:"timeout"`

	// Concurrency is the number of hosts probed in parallel.
	Concurrency int `yaml:"concurrency"`
}

// ConnectionConfig tunes the session and supervisor.
type ConnectionConfig struct {
	ConnectTimeout   int           `yaml:"connect_timeout"`
	KeepaliveTimeout int           `yaml:"keepalive_timeout"`
	PollInterval     int           `yaml:"poll_interval"`
	Backoff          BackoffConfig `yaml:"backoff"`
}

// BackoffConfig sets reconnect delays.
type BackoffConfig struct {
	InitialDelay int     `yaml:"initial_delay"`
	MaxDelay     int     `yaml:"max_delay"`
	Jitter       float64 `yaml:"jitter"`
}

// MQTTConfig configures the optional MQTT bridge.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	TopicPrefix string           `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CaptureConfig enables the CBOR protocol capture file.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

var (
	validSources    = []string{"ssdp", "mdns", "subnet"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Load builds and validates the configuration. An empty path skips the
// file layer.
func Load(path string) (*Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Parse layers defaults, the file at path and the environment without
// validating. Callers apply their own overrides and then call Validate.
func Parse(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Port: 8899,
		},
		Discovery: DiscoveryConfig{
			Enabled:     true,
			Sources:     []string{"ssdp", "mdns", "subnet"},
			Timeout:     30,
			Concurrency: 32,
		},
		Connection: ConnectionConfig{
			ConnectTimeout:   5,
			KeepaliveTimeout: 180,
			PollInterval:     30,
			Backoff: BackoffConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "smartfan",
			},
			QoS:         1,
			TopicPrefix: "smartfan",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Capture: CaptureConfig{
			Path: "smartfan.cbor",
		},
	}
}

// applyEnvOverrides applies SMARTFAN_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SMARTFAN_HOST"); v != "" {
		cfg.Device.Host = v
	}
	if v := os.Getenv("SMARTFAN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMARTFAN_PORT: %w", err)
		}
		cfg.Device.Port = port
	}
	if v := os.Getenv("SMARTFAN_UDN"); v != "" {
		cfg.Device.UDN = v
	}
	if v := os.Getenv("SMARTFAN_IDENTITY_FILE"); v != "" {
		cfg.Device.IdentityFile = v
	}
	if v := os.Getenv("SMARTFAN_DISCOVERY_SUBNET"); v != "" {
		cfg.Discovery.Subnet = v
	}

	if v := os.Getenv("SMARTFAN_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("SMARTFAN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SMARTFAN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("SMARTFAN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Host == "" && (c.Device.UDN == "" || !c.Discovery.Enabled) {
		errs = append(errs, "device.host is required unless device.udn is set and discovery is enabled")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}

	for _, s := range c.Discovery.Sources {
		if !slices.Contains(validSources, s) {
			errs = append(errs, fmt.Sprintf("discovery.sources: unknown source %q", s))
		}
	}
	if c.Discovery.Enabled && len(c.Discovery.Sources) == 0 {
		errs = append(errs, "discovery.sources must not be empty when discovery is enabled")
	}
	if c.Discovery.Timeout < 1 {
		errs = append(errs, "discovery.timeout must be positive")
	}

	if c.Connection.ConnectTimeout < 1 {
		errs = append(errs, "connection.connect_timeout must be positive")
	}
	if c.Connection.KeepaliveTimeout < 1 {
		errs = append(errs, "connection.keepalive_timeout must be positive")
	}
	if c.Connection.PollInterval < 1 {
		errs = append(errs, "connection.poll_interval must be positive")
	}
	if b := c.Connection.Backoff; b.InitialDelay < 1 || b.MaxDelay < b.InitialDelay {
		errs = append(errs, "connection.backoff needs 1 <= initial_delay <= max_delay")
	}
	if j := c.Connection.Backoff.Jitter; j < 0 || j > 1 {
		errs = append(errs, "connection.backoff.jitter must be between 0 and 1")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.Logging.Level)) {
		errs = append(errs, fmt.Sprintf("logging.level: unknown level %q", c.Logging.Level))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(c.Logging.Format)) {
		errs = append(errs, fmt.Sprintf("logging.format: unknown format %q", c.Logging.Format))
	}

	if c.Capture.Enabled && c.Capture.Path == "" {
		errs = append(errs, "capture.path is required when capture is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConnectTimeout returns the TCP connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Connection.ConnectTimeout) * time.Second
}

// KeepaliveTimeout returns the inbound silence limit.
func (c *Config) KeepaliveTimeout() time.Duration {
	return time.Duration(c.Connection.KeepaliveTimeout) * time.Second
}

// PollInterval returns the state poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Connection.PollInterval) * time.Second
}

// DiscoveryTimeout returns the scan timeout.
func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.Timeout) * time.Second
}

// BackoffDelays returns the initial and maximum reconnect delays.
func (c *Config) BackoffDelays() (initial, maximum time.Duration) {
	return time.Duration(c.Connection.Backoff.InitialDelay) * time.Second,
		time.Duration(c.Connection.Backoff.MaxDelay) * time.Second
}
