package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SubnetConfig configures a SubnetSource.
type SubnetConfig struct {
	// Prefix is the first three octets of the /24 to sweep, e.g. "192.168.1".
	// Empty means detect the prefix from the default route.
	Prefix string

	// Port is probed on every host. Default: 49152.
	Port int

	// ProbeTimeout bounds each TCP probe. Default: 5s.
	ProbeTimeout time.Duration

	// Concurrency is the number of hosts probed in parallel. Default: 32.
	Concurrency int

	// Logger receives debug output. Default: discard.
	Logger *slog.Logger
}

// SubnetSource sweeps a /24 for hosts with the description port open.
type SubnetSource struct {
	config SubnetConfig
	logger *slog.Logger

	// detect returns the local prefix; replaced in tests.
	detect func() (string, error)
}

// NewSubnetSource creates a subnet sweep source.
func NewSubnetSource(config SubnetConfig) *SubnetSource {
	if config.Port == 0 {
		config.Port = DescriptionPort
	}
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SubnetSource{config: config, logger: logger, detect: DetectNetworkPrefix}
}

// Candidates implements Source. Hosts .1 to .254 are probed; results are
// sorted by last octet.
func (s *SubnetSource) Candidates(ctx context.Context) ([]string, error) {
	prefix := s.config.Prefix
	if prefix == "" {
		var err error
		if prefix, err = s.detect(); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("sweeping subnet", "prefix", prefix+".0/24", "port", s.config.Port)

	var (
		mu    sync.Mutex
		found []int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i := 1; i <= 254; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			host := fmt.Sprintf("%s.%d", prefix, i)
			if probePort(gctx, host, s.config.Port, s.config.ProbeTimeout) {
				mu.Lock()
				found = append(found, i)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Ints(found)
	hosts := make([]string, len(found))
	for i, octet := range found {
		hosts[i] = fmt.Sprintf("%s.%d", prefix, octet)
	}
	return hosts, nil
}

// DetectNetworkPrefix returns the first three octets of the local IPv4
// address used for the default route. No packets are sent.
func DetectNetworkPrefix() (string, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoNetwork, err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", ErrNoNetwork
	}
	return PrefixOf(addr.IP.String())
}

// PrefixOf returns the /24 prefix of an IPv4 address, e.g. "10.0.0" for
// "10.0.0.17".
func PrefixOf(ip string) (string, error) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return "", fmt.Errorf("%w: %q is not IPv4", ErrNoNetwork, ip)
	}
	s := parsed.String()
	return s[:strings.LastIndexByte(s, '.')], nil
}
