// Package logging builds the daemon's operational slog logger from the
// logging section of the configuration.
//
// Protocol capture (frames, messages, state transitions) is separate and
// lives in pkg/log.
package logging
