package state

import (
	"reflect"
	"sort"
	"sync"
	"time"
)

// Snapshot is an immutable copy of the hub state at one point in time.
type Snapshot struct {
	// Values maps property key to its last reported value.
	Values map[string]any

	// Available is false while the device session is down.
	Available bool

	// LastUpdated is the time of the latest update or availability change.
	LastUpdated time.Time
}

// Get returns the current value for key. It reports false when the key is
// unknown or the device is unavailable.
func (s Snapshot) Get(key string) (any, bool) {
	if !s.Available {
		return nil, false
	}
	v, ok := s.Values[key]
	return v, ok
}

// LastKnown returns the stored value for key regardless of availability.
func (s Snapshot) LastKnown(key string) (any, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Bool returns a current boolean value.
func (s Snapshot) Bool(key string) (bool, bool) {
	v, ok := s.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Int returns a current integral value.
func (s Snapshot) Int(key string) (int, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Keys returns the stored keys in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Listener receives hub notifications.
type Listener interface {
	// OnStateChanged is called with the full snapshot after any change.
	OnStateChanged(Snapshot)

	// OnAvailabilityChanged is called on each availability transition.
	OnAvailabilityChanged(available bool)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	StateChanged        func(Snapshot)
	AvailabilityChanged func(bool)
}

// OnStateChanged implements Listener.
func (f ListenerFuncs) OnStateChanged(s Snapshot) {
	if f.StateChanged != nil {
		f.StateChanged(s)
	}
}

// OnAvailabilityChanged implements Listener.
func (f ListenerFuncs) OnAvailabilityChanged(available bool) {
	if f.AvailabilityChanged != nil {
		f.AvailabilityChanged(available)
	}
}

// Handle identifies a subscription.
type Handle uint64

type subscriber struct {
	handle   Handle
	listener Listener
}

// Hub stores device state and notifies subscribers.
type Hub struct {
	mu          sync.Mutex
	values      map[string]any
	available   bool
	lastUpdated time.Time
	subs        []subscriber
	nextHandle  Handle

	now func() time.Time
}

// NewHub creates an empty, unavailable hub.
func NewHub() *Hub {
	return &Hub{
		values: make(map[string]any),
		now:    time.Now,
	}
}

// Subscribe registers l and returns a handle for Unsubscribe.
// Listeners are notified in subscription order.
func (h *Hub) Subscribe(l Listener) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextHandle++
	h.subs = append(h.subs, subscriber{handle: h.nextHandle, listener: l})
	return h.nextHandle
}

// Unsubscribe removes the subscription. It reports whether the handle was
// registered.
func (h *Hub) Unsubscribe(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subs {
		if s.handle == handle {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Snapshot returns a copy of the current state.
func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Update stores value under key. Subscribers are notified only if the value
// changed.
func (h *Hub) Update(key string, value any) {
	h.UpdateMany(map[string]any{key: value})
}

// UpdateMany stores several values and notifies at most once.
func (h *Hub) UpdateMany(values map[string]any) {
	if len(values) == 0 {
		return
	}

	h.mu.Lock()
	changed := false
	for k, v := range values {
		old, ok := h.values[k]
		if ok && reflect.DeepEqual(old, v) {
			continue
		}
		h.values[k] = v
		changed = true
	}
	h.touchLocked()
	if !changed {
		h.mu.Unlock()
		return
	}
	snap := h.snapshotLocked()
	subs := h.listenersLocked()
	h.mu.Unlock()

	for _, l := range subs {
		l.OnStateChanged(snap)
	}
}

// SetAvailable records the availability flag. Subscribers are notified only
// on a transition.
func (h *Hub) SetAvailable(available bool) {
	h.mu.Lock()
	if h.available == available {
		h.mu.Unlock()
		return
	}
	h.available = available
	h.touchLocked()
	snap := h.snapshotLocked()
	subs := h.listenersLocked()
	h.mu.Unlock()

	for _, l := range subs {
		l.OnAvailabilityChanged(available)
		l.OnStateChanged(snap)
	}
}

// Available reports the current availability flag.
func (h *Hub) Available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available
}

// touchLocked advances lastUpdated, nudging it forward when the clock has
// not moved.
func (h *Hub) touchLocked() {
	now := h.now()
	if !now.After(h.lastUpdated) {
		now = h.lastUpdated.Add(time.Nanosecond)
	}
	h.lastUpdated = now
}

func (h *Hub) snapshotLocked() Snapshot {
	values := make(map[string]any, len(h.values))
	for k, v := range h.values {
		values[k] = v
	}
	return Snapshot{
		Values:      values,
		Available:   h.available,
		LastUpdated: h.lastUpdated,
	}
}

func (h *Hub) listenersLocked() []Listener {
	out := make([]Listener, len(h.subs))
	for i, s := range h.subs {
		out[i] = s.listener
	}
	return out
}
