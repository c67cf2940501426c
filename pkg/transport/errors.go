package transport

import (
	"errors"
	"fmt"
	"strings"
)

// Session errors.
var (
	// ErrNotConnected is returned when sending on a session that is dead or closed.
	ErrNotConnected = errors.New("not connected")

	// ErrSessionLost is the cause passed to OnSessionLost when the peer closed
	// the stream without an I/O error.
	ErrSessionLost = errors.New("session lost")
)

// ConnectError reports a failed dial (refused, unreachable or timed out).
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Timeout reports whether the dial failed on the connect deadline.
func (e *ConnectError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// SendError reports a command that could not be written.
type SendError struct {
	Keys []string
	Err  error
}

func (e *SendError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("send: %v", e.Err)
	}
	return fmt.Sprintf("send %s: %v", strings.Join(e.Keys, ","), e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
