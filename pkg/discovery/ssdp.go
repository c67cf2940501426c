package discovery

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// SSDP constants.
const (
	// SSDPAddress is the UPnP multicast group.
	SSDPAddress = "239.255.255.250:1900"

	// SSDPSearchTarget asks every UPnP root device to answer.
	SSDPSearchTarget = "upnp:rootdevice"

	// DefaultSSDPWait is how long SSDPSource collects responses.
	DefaultSSDPWait = 3 * time.Second
)

// SSDPConfig configures an SSDPSource.
type SSDPConfig struct {
	// Address receives the M-SEARCH probe. Default: SSDPAddress.
	Address string

	// SearchTarget is the ST header. Default: SSDPSearchTarget.
	SearchTarget string

	// Wait is how long to collect responses. Default: 3s.
	Wait time.Duration

	// Logger receives debug output. Default: discard.
	Logger *slog.Logger
}

// SSDPSource finds candidates with an SSDP M-SEARCH probe.
type SSDPSource struct {
	config SSDPConfig
	logger *slog.Logger
}

// NewSSDPSource creates an SSDP source.
func NewSSDPSource(config SSDPConfig) *SSDPSource {
	if config.Address == "" {
		config.Address = SSDPAddress
	}
	if config.SearchTarget == "" {
		config.SearchTarget = SSDPSearchTarget
	}
	if config.Wait == 0 {
		config.Wait = DefaultSSDPWait
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SSDPSource{config: config, logger: logger}
}

// Candidates implements Source.
func (s *SSDPSource) Candidates(ctx context.Context) ([]string, error) {
	target, err := net.ResolveUDPAddr("udp4", s.config.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", s.config.Address, err)
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	defer conn.Close()

	if _, err := conn.WriteTo(searchRequest(s.config.Address, s.config.SearchTarget, s.config.Wait), target); err != nil {
		return nil, fmt.Errorf("send M-SEARCH: %w", err)
	}

	deadline := time.Now().Add(s.config.Wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	// Unblock the read when ctx ends before the deadline.
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	var hosts []string
	seen := make(map[string]struct{})
	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		host := responseHost(buf[:n], from)
		if host == "" {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		s.logger.Debug("ssdp response", "host", host)
		hosts = append(hosts, host)
	}
	return hosts, nil
}

func searchRequest(host, st string, wait time.Duration) []byte {
	mx := int(wait / time.Second)
	if mx < 1 {
		mx = 1
	}
	return []byte(fmt.Sprintf("M-SEARCH * HTTP/1.1\r\n"+
		"HOST: %s\r\n"+
		"MAN: \"ssdp:discover\"\r\n"+
		"MX: %d\r\n"+
		"ST: %s\r\n\r\n", host, mx, st))
}

// responseHost takes the host from the LOCATION header, falling back to the
// datagram's source address.
func responseHost(data []byte, from net.Addr) string {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), nil)
	if err == nil {
		resp.Body.Close()
		if loc, err := url.Parse(resp.Header.Get("Location")); err == nil && loc.Hostname() != "" {
			return loc.Hostname()
		}
	}
	if udp, ok := from.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	return ""
}
