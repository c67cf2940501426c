package transport

import (
	"net"

	"github.com/homewerks-local/smartfan-go/pkg/frame"
)

// Handler receives session events. Methods are called from the session's
// read loop, except OnSessionLost which may also be called from a failed
// Send. Implementations must not block for long.
type Handler interface {
	// OnMessage is called for every decoded property message.
	OnMessage(msg frame.Message)

	// OnMalformed is called for each frame that could not be parsed.
	OnMalformed(err error)

	// OnSessionLost is called once when the session dies.
	OnSessionLost(err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Message     func(frame.Message)
	Malformed   func(error)
	SessionLost func(error)
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(msg frame.Message) {
	if h.Message != nil {
		h.Message(msg)
	}
}

// OnMalformed implements Handler.
func (h HandlerFuncs) OnMalformed(err error) {
	if h.Malformed != nil {
		h.Malformed(err)
	}
}

// OnSessionLost implements Handler.
func (h HandlerFuncs) OnSessionLost(err error) {
	if h.SessionLost != nil {
		h.SessionLost(err)
	}
}

// DeviceSession is the command surface of a live session.
// Implemented by Session.
type DeviceSession interface {
	// ID returns the session's connection ID.
	ID() string

	// RemoteAddr returns the device address.
	RemoteAddr() net.Addr

	// Send writes one command frame.
	Send(cmd frame.Command) error

	// QueryAll asks the device to report the given keys.
	QueryAll(keys []string) error

	// Alive reports whether the session can still send.
	Alive() bool

	// Close closes the session without raising OnSessionLost.
	Close() error
}

// Compile-time interface satisfaction checks.
var (
	_ DeviceSession = (*Session)(nil)
	_ Handler       = HandlerFuncs{}
)
