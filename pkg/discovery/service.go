package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ServiceConfig configures a discovery Service.
type ServiceConfig struct {
	// Source produces candidates. Default: SSDP, mDNS and subnet sweep.
	Source Source

	// Describer validates candidates. Default: NewHTTPDescriber.
	Describer Describer

	// Timeout bounds Scan and Resolve when the caller passes zero.
	// Default: 30s.
	Timeout time.Duration

	// Concurrency is the number of candidates described in parallel.
	// Default: 32.
	Concurrency int

	// Logger receives operational output. Default: discard.
	Logger *slog.Logger
}

// DefaultSource returns the default candidate source.
func DefaultSource(logger *slog.Logger) Source {
	return MultiSource{
		NewSSDPSource(SSDPConfig{Logger: logger}),
		NewMDNSSource(MDNSConfig{Logger: logger}),
		NewSubnetSource(SubnetConfig{Logger: logger}),
	}
}

// Service scans the network for devices and resolves UDNs to addresses.
// It is safe for concurrent use.
type Service struct {
	config    ServiceConfig
	source    Source
	describer Describer
	logger    *slog.Logger
}

// NewService creates a discovery service.
func NewService(config ServiceConfig) *Service {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultScanTimeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}

	s := &Service{config: config, source: config.Source, describer: config.Describer, logger: logger}
	if s.source == nil {
		s.source = DefaultSource(logger)
	}
	if s.describer == nil {
		s.describer = NewHTTPDescriber(DescriberConfig{Logger: logger})
	}
	return s
}

// Describe fetches a single host's description.
func (s *Service) Describe(ctx context.Context, host string) (*DiscoveredDevice, error) {
	return s.describer.Describe(ctx, host)
}

// Scan finds every supported device within timeout. Devices are de-duplicated
// by UDN and sorted by host. When the deadline cuts the scan short the
// devices found so far are returned together with ErrDiscoveryTimeout.
func (s *Service) Scan(ctx context.Context, timeout time.Duration) ([]DiscoveredDevice, error) {
	if timeout <= 0 {
		timeout = s.config.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.scan(ctx, nil)
}

// scan describes every candidate. stop, if non-nil, is called for each
// device; returning true ends the scan early.
func (s *Service) scan(ctx context.Context, stop func(DiscoveredDevice) bool) ([]DiscoveredDevice, error) {
	candidates, err := s.source.Candidates(ctx)
	if err != nil && len(candidates) == 0 {
		if ctx.Err() != nil {
			return nil, ErrDiscoveryTimeout
		}
		return nil, fmt.Errorf("discovery: %w", err)
	}
	s.logger.Debug("scan candidates", "count", len(candidates))

	var (
		mu      sync.Mutex
		devices []DiscoveredDevice
		seen    = make(map[string]struct{})
		done    bool
	)

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(scanCtx)
	g.SetLimit(s.config.Concurrency)
	for _, host := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			dev, err := s.describer.Describe(gctx, host)
			if err != nil {
				s.logger.Debug("candidate rejected", "host", host, "error", err)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			key := normalizeUDN(dev.UDN)
			if key == "" {
				key = "host:" + dev.Host
			}
			if _, dup := seen[key]; dup || done {
				return nil
			}
			seen[key] = struct{}{}
			devices = append(devices, *dev)
			s.logger.Info("device discovered", "host", dev.Host, "udn", dev.UDN, "name", dev.FriendlyName)

			if stop != nil && stop(*dev) {
				done = true
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(devices, func(i, j int) bool { return devices[i].Host < devices[j].Host })

	mu.Lock()
	stopped := done
	mu.Unlock()
	if !stopped && ctx.Err() != nil {
		return devices, ErrDiscoveryTimeout
	}
	return devices, nil
}

// Resolve returns the current address of the device with the given UDN.
//
// previous, if set, is checked first. Otherwise, or if it answers with
// another identity, the network is scanned. Errors are ErrNotFound,
// ErrDiscoveryTimeout or *IdentityMismatchError (which matches ErrNotFound).
func (s *Service) Resolve(ctx context.Context, udn, previous string) (string, error) {
	if udn == "" {
		return "", fmt.Errorf("%w: empty UDN", ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var mismatch *IdentityMismatchError
	if previous != "" {
		dev, err := s.describer.Describe(ctx, previous)
		switch {
		case err == nil && SameUDN(dev.UDN, udn):
			return previous, nil
		case err == nil:
			mismatch = &IdentityMismatchError{Host: previous, Expected: udn, Found: dev.UDN}
			s.logger.Warn("identity mismatch at previous address", "host", previous, "expected", udn, "found", dev.UDN)
		}
	}

	var match string
	_, err := s.scan(ctx, func(d DiscoveredDevice) bool {
		if SameUDN(d.UDN, udn) {
			match = d.Host
			return true
		}
		return false
	})
	if match != "" {
		s.logger.Info("device resolved", "udn", udn, "host", match, "previous", previous)
		return match, nil
	}

	switch {
	case errors.Is(err, ErrDiscoveryTimeout):
		return "", ErrDiscoveryTimeout
	case mismatch != nil:
		return "", mismatch
	case err != nil:
		return "", err
	default:
		return "", ErrNotFound
	}
}
