// Package transport owns the TCP session to one fan controller.
//
// The device listens on TCP port 8899 and speaks plaintext frames (see
// package frame). A Session has exactly one socket. Its read loop runs on
// its own goroutine and hands each decoded message to a Handler; sends are
// serialised by a write lock and never wait on the read loop.
//
// # Failure model
//
// Any read or write failure, including a write deadline expiry, marks the
// session dead, closes the socket and calls Handler.OnSessionLost exactly
// once. The session never retries; reconnection belongs to package
// connection. A malformed frame is reported through Handler.OnMalformed and
// the stream continues.
//
// # Liveness
//
// The device sends no heartbeat. Watchdog infers a dead link from inbound
// silence: it is touched on every message and fires once when the timeout
// elapses without activity.
package transport
