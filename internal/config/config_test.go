package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smartfan.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
device:
  host: "192.168.1.40"
  udn: "uuid:FF31F09E-1A5B-4F3C-9D2A-00226C0A5E11"
  identity_file: "/var/lib/smartfan/identity.json"
discovery:
  sources: ["subnet"]
  subnet: "192.168.1"
connection:
  poll_interval: 10
  backoff:
    initial_delay: 2
    max_delay: 30
mqtt:
  enabled: true
  broker:
    host: "broker.lan"
  topic_prefix: "home/fan"
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Host != "192.168.1.40" {
		t.Errorf("Device.Host = %q", cfg.Device.Host)
	}
	if cfg.Device.Port != 8899 {
		t.Errorf("Device.Port = %d, want default 8899", cfg.Device.Port)
	}
	if got := cfg.Discovery.Sources; len(got) != 1 || got[0] != "subnet" {
		t.Errorf("Discovery.Sources = %v, want [subnet]", got)
	}
	if cfg.PollInterval() != 10*time.Second {
		t.Errorf("PollInterval() = %v", cfg.PollInterval())
	}
	initial, maximum := cfg.BackoffDelays()
	if initial != 2*time.Second || maximum != 30*time.Second {
		t.Errorf("BackoffDelays() = %v, %v", initial, maximum)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.TopicPrefix != "home/fan" {
		t.Errorf("MQTT.TopicPrefix = %q", cfg.MQTT.TopicPrefix)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SMARTFAN_HOST", "10.0.0.8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ConnectTimeout() != 5*time.Second {
		t.Errorf("ConnectTimeout() = %v, want 5s", cfg.ConnectTimeout())
	}
	if cfg.KeepaliveTimeout() != 3*time.Minute {
		t.Errorf("KeepaliveTimeout() = %v, want 3m", cfg.KeepaliveTimeout())
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Errorf("PollInterval() = %v, want 30s", cfg.PollInterval())
	}
	if cfg.DiscoveryTimeout() != 30*time.Second {
		t.Errorf("DiscoveryTimeout() = %v, want 30s", cfg.DiscoveryTimeout())
	}
	initial, maximum := cfg.BackoffDelays()
	if initial != time.Second || maximum != time.Minute {
		t.Errorf("BackoffDelays() = %v, %v, want 1s, 1m", initial, maximum)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT enabled by default")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/smartfan.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestParse_SkipsValidation(t *testing.T) {
	t.Setenv("SMARTFAN_HOST", "")
	t.Setenv("SMARTFAN_UDN", "")

	cfg, err := Parse("")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Device.Port != 8899 {
		t.Errorf("Device.Port = %d, want 8899", cfg.Device.Port)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted a config without host or udn")
	}

	cfg.Device.Host = "192.168.1.40"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "device: [host: broken")
	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
device:
  host: "192.168.1.40"
`)
	t.Setenv("SMARTFAN_HOST", "192.168.1.99")
	t.Setenv("SMARTFAN_PORT", "9000")
	t.Setenv("SMARTFAN_UDN", "uuid:abc")
	t.Setenv("SMARTFAN_MQTT_HOST", "mqtt.lan")
	t.Setenv("SMARTFAN_MQTT_USERNAME", "fan")
	t.Setenv("SMARTFAN_MQTT_PASSWORD", "secret")
	t.Setenv("SMARTFAN_LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Host != "192.168.1.99" {
		t.Errorf("Device.Host = %q, want env override", cfg.Device.Host)
	}
	if cfg.Device.Port != 9000 {
		t.Errorf("Device.Port = %d, want 9000", cfg.Device.Port)
	}
	if cfg.Device.UDN != "uuid:abc" {
		t.Errorf("Device.UDN = %q", cfg.Device.UDN)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker.Host != "mqtt.lan" {
		t.Errorf("MQTT = %+v, want enabled with env host", cfg.MQTT)
	}
	if cfg.MQTT.Auth.Username != "fan" || cfg.MQTT.Auth.Password != "secret" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_BadPortEnv(t *testing.T) {
	t.Setenv("SMARTFAN_HOST", "10.0.0.8")
	t.Setenv("SMARTFAN_PORT", "eighty")

	if _, err := Load(""); err == nil {
		t.Error("Load() expected error for non-numeric SMARTFAN_PORT")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid with host",
			mutate: func(c *Config) { c.Device.Host = "10.0.0.8" },
		},
		{
			name:   "udn only with discovery",
			mutate: func(c *Config) { c.Device.UDN = "uuid:abc" },
		},
		{
			name: "udn only without discovery",
			mutate: func(c *Config) {
				c.Device.UDN = "uuid:abc"
				c.Discovery.Enabled = false
			},
			wantErr: "device.host is required",
		},
		{
			name:    "no host",
			mutate:  func(c *Config) {},
			wantErr: "device.host is required",
		},
		{
			name: "bad port",
			mutate: func(c *Config) {
				c.Device.Host = "10.0.0.8"
				c.Device.Port = 70000
			},
			wantErr: "device.port",
		},
		{
			name: "unknown source",
			mutate: func(c *Config) {
				c.Device.Host = "10.0.0.8"
				c.Discovery.Sources = []string{"bluetooth"}
			},
			wantErr: `unknown source "bluetooth"`,
		},
		{
			name: "backoff inverted",
			mutate: func(c *Config) {
				c.Device.Host = "10.0.0.8"
				c.Connection.Backoff.InitialDelay = 10
				c.Connection.Backoff.MaxDelay = 5
			},
			wantErr: "connection.backoff",
		},
		{
			name: "jitter out of range",
			mutate: func(c *Config) {
				c.Device.Host = "10.0.0.8"
				c.Connection.Backoff.Jitter = 2
			},
			wantErr: "jitter",
		},
		{
			name: "mqtt without prefix",
			mutate: func(c *Config) {
				c.Device.Host = "10.0.0.8"
				c.MQTT.Enabled = true
				c.MQTT.TopicPrefix = ""
			},
			wantErr: "mqtt.topic_prefix",
		},
		{
			name: "bad qos",
			mutate: func(c *Config) {
				c.Device.Host = "10.0.0.8"
				c.MQTT.QoS = 3
			},
			wantErr: "mqtt.qos",
		},
		{
			name: "bad log level",
			mutate: func(c *Config) {
				c.Device.Host = "10.0.0.8"
				c.Logging.Level = "verbose"
			},
			wantErr: "logging.level",
		},
		{
			name: "capture without path",
			mutate: func(c *Config) {
				c.Device.Host = "10.0.0.8"
				c.Capture.Enabled = true
				c.Capture.Path = ""
			},
			wantErr: "capture.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
