// Package log provides protocol capture for the fan's control connection.
//
// It is separate from operational logging (slog). Protocol capture records
// every frame, every decoded property message and every connection or
// availability transition as a machine-readable event trace, so a session
// with a misbehaving fan can be replayed later.
//
// # Basic Usage
//
//	// During development: print events through slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// In the field: append CBOR events to a capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/lib/smartfan/fan.plog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # Event Layers
//
//   - Transport: raw frame bytes as written to or read from the socket
//   - Codec: decoded key/value property messages
//   - Supervisor: connection state and availability transitions
//
// # File Format
//
// Capture files are a plain concatenation of CBOR-encoded Event values with
// integer map keys. Reader streams them back with optional filtering.
package log
