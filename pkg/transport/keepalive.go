package transport

import (
	"context"
	"sync"
	"time"
)

// DefaultInactivityTimeout is how long a connected device may stay silent
// before the link is considered dead.
const DefaultInactivityTimeout = 3 * time.Minute

// Watchdog fires when no inbound activity is observed for Timeout.
//
// Each Start arms the watchdog; it fires at most once per arm and then stops
// itself. Touch pushes the deadline out.
type Watchdog struct {
	timeout   time.Duration
	onTimeout func()

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	touchCh      chan struct{}
	lastActivity time.Time
}

// NewWatchdog creates a stopped watchdog. A zero timeout uses
// DefaultInactivityTimeout.
func NewWatchdog(timeout time.Duration, onTimeout func()) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	return &Watchdog{
		timeout:   timeout,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
		touchCh:   make(chan struct{}, 1),
	}
}

// Timeout returns the configured inactivity timeout.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Start arms the watchdog. Calling Start while running is a no-op.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.lastActivity = time.Now()
	stopCh := w.stopCh
	w.mu.Unlock()

	go w.loop(ctx, stopCh)
}

// Stop disarms the watchdog without firing.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
}

// Touch records inbound activity.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()

	select {
	case w.touchCh <- struct{}{}:
	default:
		// A reset is already pending
	}
}

// IsRunning returns true while the watchdog is armed.
func (w *Watchdog) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastActivity returns the time of the latest Touch or Start.
func (w *Watchdog) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

func (w *Watchdog) loop(ctx context.Context, stopCh chan struct{}) {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.disarm(stopCh)
			return
		case <-stopCh:
			return
		case <-w.touchCh:
			timer.Reset(w.timeout)
		case <-timer.C:
			if !w.disarm(stopCh) {
				return // Stopped concurrently
			}
			if w.onTimeout != nil {
				w.onTimeout()
			}
			return
		}
	}
}

// disarm clears running if this loop still owns the arm.
func (w *Watchdog) disarm(stopCh chan struct{}) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.stopCh != stopCh {
		return false
	}
	w.running = false
	close(w.stopCh)
	return true
}
