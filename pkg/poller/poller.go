// Package poller re-queries device state on a fixed interval while a
// session is live.
//
// Polling is a fallback for missed or coalesced push updates. Replies flow
// through the normal message path, and push updates never move the poll
// schedule.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the time between polls.
const DefaultInterval = 30 * time.Second

// QueryFunc sends one "report all tracked keys" request.
type QueryFunc func(ctx context.Context) error

// Config configures a Poller.
type Config struct {
	// Interval between polls (default: 30s).
	Interval time.Duration

	// Query is called on every tick. Required.
	Query QueryFunc

	// Logger receives poll failures. Optional.
	Logger *slog.Logger
}

// Poller calls Query every Interval between Start and Stop.
type Poller struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	polls    int
	failures int
}

// New creates a stopped poller.
func New(config Config) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Poller{
		config: config,
		logger: logger.With("component", "poller"),
	}
}

// Interval returns the poll interval.
func (p *Poller) Interval() time.Duration {
	return p.config.Interval
}

// Start begins polling. The first poll happens one interval from now; the
// on-connect query is the caller's job. Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.config.Query == nil {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.wg.Add(1)
	go p.loop(ctx, p.stopCh)
}

// Stop halts polling and waits for an in-flight poll to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

// IsRunning returns true between Start and Stop.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns the number of polls issued and how many failed.
func (p *Poller) Stats() (polls, failures int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls, p.failures
}

func (p *Poller) loop(ctx context.Context, stopCh chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			err := p.config.Query(ctx)

			p.mu.Lock()
			p.polls++
			if err != nil {
				p.failures++
			}
			p.mu.Unlock()

			if err != nil {
				// The session reports its own loss; nothing to retry here.
				p.logger.Debug("poll failed", "error", err)
			}
		}
	}
}
