package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxDescriptionSize caps the description document read from a responder.
const maxDescriptionSize = 64 * 1024

// Describer fetches and validates a single host's device description.
type Describer interface {
	// Describe returns the device at host, or an error wrapping
	// ErrNotSmartFan or ErrInvalidDescription when host is not a supported
	// device.
	Describe(ctx context.Context, host string) (*DiscoveredDevice, error)
}

// DescriberConfig configures an HTTPDescriber.
type DescriberConfig struct {
	// DescriptionPort serves description.xml. Default: 49152.
	DescriptionPort int

	// MCUPort must accept TCP connections. Default: 8899.
	MCUPort int

	// Timeout bounds the HTTP fetch and the port probe. Default: 5s.
	Timeout time.Duration

	// Client performs the HTTP request. Default: a client with Timeout.
	Client *http.Client

	// Logger receives debug output. Default: discard.
	Logger *slog.Logger
}

// DefaultDescriberConfig returns the default describer configuration.
func DefaultDescriberConfig() DescriberConfig {
	return DescriberConfig{
		DescriptionPort: DescriptionPort,
		MCUPort:         MCUPort,
		Timeout:         DefaultProbeTimeout,
	}
}

// HTTPDescriber implements Describer over HTTP.
type HTTPDescriber struct {
	config DescriberConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPDescriber creates a describer, filling unset fields with defaults.
func NewHTTPDescriber(config DescriberConfig) *HTTPDescriber {
	def := DefaultDescriberConfig()
	if config.DescriptionPort == 0 {
		config.DescriptionPort = def.DescriptionPort
	}
	if config.MCUPort == 0 {
		config.MCUPort = def.MCUPort
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &HTTPDescriber{config: config, client: client, logger: logger}
}

// Describe implements Describer.
func (d *HTTPDescriber) Describe(ctx context.Context, host string) (*DiscoveredDevice, error) {
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(d.config.DescriptionPort)) + DescriptionPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrNotSmartFan, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrNotSmartFan, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptionSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrNotSmartFan, url, err)
	}

	dev, err := ParseDescription(body)
	if err != nil {
		d.logger.Debug("unparsable description", "host", host, "error", err)
		return nil, err
	}
	dev.Host = host

	if !strings.Contains(dev.Manufacturer, ManufacturerFamily) {
		return nil, fmt.Errorf("%w: manufacturer %q", ErrNotSmartFan, dev.Manufacturer)
	}

	if !probePort(ctx, host, d.config.MCUPort, d.config.Timeout) {
		return nil, fmt.Errorf("%w: MCU port %d closed on %s", ErrNotSmartFan, d.config.MCUPort, host)
	}

	d.logger.Debug("device described", "host", host, "udn", dev.UDN, "name", dev.FriendlyName)
	return dev, nil
}

// upnpRoot mirrors the parts of a UPnP device description we read.
// Element names are matched in any namespace.
type upnpRoot struct {
	XMLName xml.Name   `xml:"root"`
	Device  upnpDevice `xml:"device"`
}

type upnpDevice struct {
	FriendlyName     string `xml:"friendlyName"`
	Manufacturer     string `xml:"manufacturer"`
	ModelName        string `xml:"modelName"`
	ModelDescription string `xml:"modelDescription"`
	UDN              string `xml:"UDN"`
	UUID             string `xml:"uuid"`
}

// ParseDescription decodes a UPnP description document. Host is left empty.
func ParseDescription(data []byte) (*DiscoveredDevice, error) {
	var root upnpRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescription, err)
	}

	d := root.Device
	dev := &DiscoveredDevice{
		UDN:              strings.TrimSpace(d.UDN),
		UUID:             strings.TrimSpace(d.UUID),
		FriendlyName:     strings.TrimSpace(d.FriendlyName),
		Manufacturer:     strings.TrimSpace(d.Manufacturer),
		ModelName:        strings.TrimSpace(d.ModelName),
		ModelDescription: strings.TrimSpace(d.ModelDescription),
	}
	if dev.FriendlyName == "" {
		dev.FriendlyName = DefaultFriendlyName
	}
	return dev, nil
}

// probePort reports whether a TCP connection to host:port succeeds.
func probePort(ctx context.Context, host string, port int, timeout time.Duration) bool {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
