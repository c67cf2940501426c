package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/homewerks-local/smartfan-go/pkg/frame"
	"github.com/homewerks-local/smartfan-go/pkg/log"
)

// Session is one live TCP connection to a device.
type Session struct {
	config  DialerConfig
	handler Handler
	logger  *slog.Logger
	plog    log.Logger

	conn   net.Conn
	connID string

	dead      atomic.Bool
	closed    atomic.Bool
	lostOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error

	writeMu sync.Mutex
}

func newSession(conn net.Conn, connID string, handler Handler, config DialerConfig) *Session {
	if handler == nil {
		handler = HandlerFuncs{}
	}
	return &Session{
		config:  config,
		handler: handler,
		logger:  config.Logger.With("conn", connID),
		plog:    config.ProtocolLogger,
		conn:    conn,
		connID:  connID,
		done:    make(chan struct{}),
	}
}

// NewSession wraps an established connection and starts its read loop.
// Dialer.Dial is the usual entry point; NewSession serves callers that
// bring their own net.Conn.
func NewSession(conn net.Conn, handler Handler, config DialerConfig) *Session {
	d := NewDialer(config)
	s := newSession(conn, uuid.New().String(), handler, d.config)
	s.start()
	return s
}

func (s *Session) start() {
	go s.readLoop()
}

// ID returns the connection ID used in logs and capture events.
func (s *Session) ID() string {
	return s.connID
}

// RemoteAddr returns the device address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Alive reports whether the session can still send.
func (s *Session) Alive() bool {
	return !s.dead.Load() && !s.closed.Load()
}

// Done is closed when the read loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that killed the session, or nil.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Send encodes cmd and writes it as one frame. On a dead session it returns
// a *SendError wrapping ErrNotConnected. A write failure kills the session.
func (s *Session) Send(cmd frame.Command) error {
	data, err := frame.Encode(cmd)
	if err != nil {
		return &SendError{Keys: cmd.Keys(), Err: err}
	}

	if !s.Alive() {
		return &SendError{Keys: cmd.Keys(), Err: ErrNotConnected}
	}

	s.writeMu.Lock()
	if s.config.WriteTimeout > 0 {
		err = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if err == nil {
		_, err = s.conn.Write(data)
	}
	s.writeMu.Unlock()

	if err != nil {
		if s.closed.Load() {
			return &SendError{Keys: cmd.Keys(), Err: ErrNotConnected}
		}
		s.logError(log.LayerTransport, "write", err)
		s.lose(fmt.Errorf("write failed: %w", err))
		return &SendError{Keys: cmd.Keys(), Err: err}
	}

	s.logFrame(log.DirectionOut, data)
	for _, k := range cmd.Keys() {
		s.logMessage(log.DirectionOut, frame.Message{Key: k, Value: cmd[k]})
	}
	return nil
}

// QueryAll sends one query frame asking the device to report every key.
func (s *Session) QueryAll(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.Send(frame.Query(keys...))
}

// Close closes the socket without raising OnSessionLost. It is safe to call
// more than once and after the session has died.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
		s.logger.Debug("session closed")
	})
	return err
}

// readLoop reads from the socket until it fails or the session is closed.
func (s *Session) readLoop() {
	defer close(s.done)

	dec := frame.NewDecoder()
	buf := make([]byte, s.config.ReadBufferSize)

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.logFrame(log.DirectionIn, buf[:n])
			msgs, errs := dec.Feed(buf[:n])
			for _, perr := range errs {
				s.logger.Warn("malformed frame", "error", perr)
				s.logError(log.LayerCodec, "decode", perr)
				s.handler.OnMalformed(perr)
			}
			for _, msg := range msgs {
				s.logMessage(log.DirectionIn, msg)
				s.handler.OnMessage(msg)
			}
		}
		if err != nil {
			if s.closed.Load() {
				return // Expected during close
			}
			if errors.Is(err, io.EOF) {
				err = ErrSessionLost
			} else {
				err = fmt.Errorf("read failed: %w", err)
				s.logError(log.LayerTransport, "read", err)
			}
			s.lose(err)
			return
		}
	}
}

// lose marks the session dead and reports it once.
func (s *Session) lose(err error) {
	s.lostOnce.Do(func() {
		s.dead.Store(true)

		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()

		s.conn.Close()
		s.logger.Info("session lost", "error", err)
		s.handler.OnSessionLost(err)
	})
}

func (s *Session) logFrame(dir log.Direction, data []byte) {
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		RemoteAddr:   s.conn.RemoteAddr().String(),
		Frame:        log.NewFrameEvent(data),
	})
}

func (s *Session) logMessage(dir log.Direction, msg frame.Message) {
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Direction:    dir,
		Layer:        log.LayerCodec,
		Category:     log.CategoryMessage,
		RemoteAddr:   s.conn.RemoteAddr().String(),
		Message:      &log.MessageEvent{Key: msg.Key, Value: msg.Value},
	})
}

func (s *Session) logError(layer log.Layer, op string, err error) {
	s.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Direction:    log.DirectionNone,
		Layer:        layer,
		Category:     log.CategoryError,
		RemoteAddr:   s.conn.RemoteAddr().String(),
		Error:        &log.ErrorEventData{Layer: layer, Message: err.Error(), Context: op},
	})
}
