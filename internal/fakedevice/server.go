// Package fakedevice is an in-process stand-in for the fan controller's
// TCP command port, used by tests and local development.
//
// The fake answers queries (empty-string values) with its current value and
// applies any other value, echoing the new state back the way the real
// firmware pushes it.
package fakedevice

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/homewerks-local/smartfan-go/pkg/frame"
)

// Config configures a fake device.
type Config struct {
	// Address to listen on (default: "127.0.0.1:0").
	Address string

	// State is the initial property state. Copied.
	State map[string]any

	// Silent suppresses all replies. The fake still records commands.
	Silent bool
}

// DefaultState is a powered-off fan with the light off.
func DefaultState() map[string]any {
	return map[string]any{
		"fan_power":        "OFF",
		"light_power":      "OFF",
		"percentage":       int64(50),
		"colorTemperature": int64(2700),
		"volume":           int64(20),
		"mute":             "0",
	}
}

// Server is a fake device listening on a loopback port.
type Server struct {
	config   Config
	listener net.Listener

	mu       sync.Mutex
	state    map[string]any
	received []frame.Command
	conns    map[net.Conn]struct{}
	silent   bool

	accepted atomic.Int32
	running  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a stopped fake device.
func New(config Config) *Server {
	if config.Address == "" {
		config.Address = "127.0.0.1:0"
	}
	if config.State == nil {
		config.State = DefaultState()
	}
	state := make(map[string]any, len(config.State))
	for k, v := range config.State {
		state[k] = v
	}
	return &Server{
		config: config,
		state:  state,
		conns:  make(map[net.Conn]struct{}),
		silent: config.Silent,
	}
}

// Start begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("fake device already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and every connection.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
	return nil
}

// Addr returns the listen address as host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes every open connection, keeping the listener.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
		delete(s.conns, c)
	}
}

// SetSilent toggles reply suppression.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// Received returns the commands received so far, one entry per socket read.
func (s *Server) Received() []frame.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame.Command(nil), s.received...)
}

// Value returns the fake's current value for key.
func (s *Server) Value(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok
}

// Push sets state and sends it to every connection, like a physical button
// press on the device.
func (s *Server) Push(cmd frame.Command) error {
	data, err := frame.Encode(cmd)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for k, v := range cmd {
		s.state[k] = v
	}
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Write(data)
	}
	return nil
}

// PushRaw writes raw bytes to every connection.
func (s *Server) PushRaw(data []byte) {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Write(data)
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || !s.running.Load() {
				return
			}
			continue
		}

		s.accepted.Add(1)
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	dec := frame.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, _ := dec.Feed(buf[:n])
			if len(msgs) > 0 {
				if reply := s.apply(msgs); reply != nil {
					data, encErr := frame.Encode(reply)
					if encErr == nil {
						conn.Write(data)
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// apply records one frame's worth of messages and builds the reply.
func (s *Server) apply(msgs []frame.Message) frame.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := make(frame.Command, len(msgs))
	reply := make(frame.Command, len(msgs))
	for _, m := range msgs {
		cmd[m.Key] = m.Value
		if v, ok := m.Value.(string); ok && v == "" {
			if cur, known := s.state[m.Key]; known {
				reply[m.Key] = cur
			}
			continue
		}
		s.state[m.Key] = m.Value
		reply[m.Key] = m.Value
	}
	s.received = append(s.received, cmd)

	if s.silent || len(reply) == 0 {
		return nil
	}
	return reply
}
