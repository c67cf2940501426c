package device

import (
	"sync"

	"github.com/homewerks-local/smartfan-go/pkg/state"
)

// availabilityGate sits between the supervisor and the hub. After a
// connect the hub stays unavailable until the new session has delivered a
// message, so values from before an outage are not reported as current.
type availabilityGate struct {
	hub *state.Hub

	mu        sync.Mutex
	connected bool
	heard     bool
}

// SetAvailable implements connection.Availability.
func (g *availabilityGate) SetAvailable(available bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connected = available
	if !available {
		g.heard = false
		g.hub.SetAvailable(false)
		return
	}
	if g.heard {
		g.hub.SetAvailable(true)
	}
}

// Heard records inbound traffic on the current session.
func (g *availabilityGate) Heard() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.heard {
		return
	}
	g.heard = true
	if g.connected {
		g.hub.SetAvailable(true)
	}
}
