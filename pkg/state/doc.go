// Package state holds the last-known device state and fans changes out to
// subscribers.
//
// A Hub is the single writer-facing store for one device. The device session
// writes decoded property values into it, the connection supervisor flips its
// availability flag, and the host platform subscribes to receive full
// snapshots.
//
// # Notification
//
// Listeners are called synchronously on the goroutine that performed the
// update, after the hub lock is released. Every notification carries the full
// Snapshot, never a diff. Re-applying an unchanged value refreshes
// LastUpdated but does not notify.
//
// Updates issued from different goroutines may be delivered out of order;
// Snapshot.LastUpdated is strictly increasing, so a listener can drop a
// snapshot older than the one it already holds.
//
// # Availability
//
// While the hub is unavailable, Snapshot.Get reports every key as not current
// so callers surface "unavailable" instead of stale values. The raw last-known
// values are still reachable through Snapshot.LastKnown.
package state
