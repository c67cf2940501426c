package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/homewerks-local/smartfan-go/internal/config"
)

// New creates a structured logger for cfg.
//
// Format "json" selects the JSON handler, anything else the text handler.
// Output "stdout" writes to standard output, anything else to standard error.
// Every record carries service and version attributes.
func New(cfg config.LoggingConfig, version string) *slog.Logger {
	return NewWithWriter(cfg, version, writerFor(cfg.Output))
}

// Default returns a text logger at info level on stderr, for use before the
// configuration is loaded.
func Default() *slog.Logger {
	return New(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"}, "dev")
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "smartfan"),
		slog.String("version", version),
	})
	return slog.New(handler)
}

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writerFor(output string) io.Writer {
	if strings.ToLower(output) == "stdout" {
		return os.Stdout
	}
	return os.Stderr
}
