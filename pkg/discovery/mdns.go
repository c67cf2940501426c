package discovery

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// mDNS constants.
const (
	// MDNSServiceType is the service Linkplay modules advertise.
	MDNSServiceType = "_linkplay._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultBrowseTimeout is how long MDNSSource browses.
	DefaultBrowseTimeout = 3 * time.Second
)

// MDNSConfig configures an MDNSSource.
type MDNSConfig struct {
	// Service is the DNS-SD service type. Default: _linkplay._tcp.
	Service string

	// BrowseTimeout is how long to collect entries. Default: 3s.
	BrowseTimeout time.Duration

	// Interface restricts browsing to one network interface.
	// Empty string means all interfaces.
	Interface string

	// Logger receives debug output. Default: discard.
	Logger *slog.Logger
}

// browseFunc matches zeroconf.Browse. Tests replace it to feed entries.
type browseFunc func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts []zeroconf.ClientOption) error

func zeroconfBrowse(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts []zeroconf.ClientOption) error {
	return zeroconf.Browse(ctx, service, domain, entries, removed, opts...)
}

// MDNSSource finds candidates by browsing DNS-SD.
type MDNSSource struct {
	config MDNSConfig
	logger *slog.Logger
	browse browseFunc
}

// NewMDNSSource creates an mDNS source.
func NewMDNSSource(config MDNSConfig) *MDNSSource {
	if config.Service == "" {
		config.Service = MDNSServiceType
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MDNSSource{config: config, logger: logger, browse: zeroconfBrowse}
}

// Candidates implements Source. Entries are aggregated by instance name and
// only IPv4 addresses are reported.
func (s *MDNSSource) Candidates(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.browse(ctx, s.config.Service, Domain, entries, removed, s.browserOptions())
	}()

	var hosts []string
	seen := make(map[string]struct{})
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			for _, ip := range entry.AddrIPv4 {
				host := ip.String()
				if _, dup := seen[host]; dup {
					continue
				}
				seen[host] = struct{}{}
				s.logger.Debug("mdns entry", "instance", entry.Instance, "host", host)
				hosts = append(hosts, host)
			}

		case <-removed:
			// A scan is a snapshot; removals do not retract candidates.

		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				return hosts, err
			}
			errCh = nil
			if entries == nil {
				return hosts, nil
			}

		case <-ctx.Done():
			return hosts, nil
		}
	}
}

// browserOptions returns zeroconf client options based on config.
func (s *MDNSSource) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	if s.config.Interface != "" {
		iface, err := net.InterfaceByName(s.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}

	return opts
}
