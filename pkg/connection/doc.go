// Package connection supervises the device session: it reconnects with
// exponential backoff, infers dead links from inbound silence, and drives
// the state hub's availability flag.
//
// # State machine
//
//	Disconnected --ConnectRequested--> Connecting
//	Connecting   --ConnectSucceeded--> Connected     (backoff reset)
//	Connecting   --ConnectFailed-----> Reconnecting  (wait backoff, then double)
//	Connected    --SessionLost-------> Reconnecting  (unavailable, retry now)
//	Connected    --KeepaliveTimeout--> Reconnecting  (unavailable, retry now)
//	Reconnecting --timer-------------> Connecting
//	any          --Shutdown----------> Disconnected  (terminal)
//
// All transitions run on one event-loop goroutine, so hooks observe them in
// order and never concurrently.
//
// # Backoff
//
// The delay starts at 1 second and doubles on each consecutive failed
// attempt up to 60 seconds. A successful connection resets it. A lost
// session is retried immediately and does not reset the delay.
//
// # Address recovery
//
// When the first connection attempt after Start fails, the optional Recover
// hook is called once. If it reports a new address, the supervisor tries
// that address right away and adopts it on success. Otherwise it keeps
// retrying the old address.
package connection
