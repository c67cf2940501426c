package transport

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/homewerks-local/smartfan-go/pkg/log"
)

// DefaultPort is the device's command port.
const DefaultPort = 8899

// Dialer defaults.
const (
	// DefaultConnectTimeout bounds a single dial attempt.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultReadBufferSize is the read loop's buffer size.
	DefaultReadBufferSize = 4096
)

// DialerConfig configures a Dialer.
type DialerConfig struct {
	// ConnectTimeout bounds a dial when ctx has no deadline (default: 5s).
	ConnectTimeout time.Duration

	// WriteTimeout bounds each frame write (default: 5s). A timeout kills
	// the session like any other write error.
	WriteTimeout time.Duration

	// ReadBufferSize is the size of each socket read (default: 4096).
	ReadBufferSize int

	// Logger receives operational logs. Optional.
	Logger *slog.Logger

	// ProtocolLogger receives frame and message capture events. Optional.
	ProtocolLogger log.Logger
}

// DefaultDialerConfig returns the default dialer configuration.
func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		ConnectTimeout: DefaultConnectTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		ReadBufferSize: DefaultReadBufferSize,
	}
}

// Dialer opens sessions to devices.
type Dialer struct {
	config DialerConfig
	dialer net.Dialer
}

// NewDialer creates a dialer, filling zero config fields with defaults.
func NewDialer(config DialerConfig) *Dialer {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = DefaultReadBufferSize
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	config.ProtocolLogger = log.OrNoop(config.ProtocolLogger)

	return &Dialer{config: config}
}

// Dial connects to address and starts the session's read loop. A missing
// port defaults to 8899. Failures are returned as *ConnectError.
func (d *Dialer) Dial(ctx context.Context, address string, handler Handler) (*Session, error) {
	address = WithDefaultPort(address)

	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.ConnectTimeout)
		defer cancel()
	}

	conn, err := d.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectError{Address: address, Err: err}
	}

	s := newSession(conn, uuid.New().String(), handler, d.config)
	d.config.Logger.Debug("session opened", "conn", s.ID(), "address", address)
	s.start()
	return s, nil
}

// WithDefaultPort appends the device command port when address has none.
func WithDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(DefaultPort))
}
