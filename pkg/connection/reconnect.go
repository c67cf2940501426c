package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homewerks-local/smartfan-go/pkg/log"
	"github.com/homewerks-local/smartfan-go/pkg/transport"
)

// Supervisor errors.
var (
	ErrAlreadyStarted = errors.New("supervisor already started")
	ErrShutdown       = errors.New("supervisor shut down")
	ErrNoConnectFunc  = errors.New("connect function is required")
)

// State is the supervisor's connection state.
type State uint8

const (
	// StateDisconnected is the initial state and the terminal state after Shutdown.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates a live session.
	StateConnected

	// StateReconnecting indicates a retry is scheduled.
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Event is an input to the state machine.
type Event uint8

const (
	EventConnectRequested Event = iota
	EventConnectSucceeded
	EventConnectFailed
	EventSessionLost
	EventKeepaliveTimeout
	EventShutdown
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventConnectRequested:
		return "CONNECT_REQUESTED"
	case EventConnectSucceeded:
		return "CONNECT_SUCCEEDED"
	case EventConnectFailed:
		return "CONNECT_FAILED"
	case EventSessionLost:
		return "SESSION_LOST"
	case EventKeepaliveTimeout:
		return "KEEPALIVE_TIMEOUT"
	case EventShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Session is the part of a device session the supervisor manages.
// A session that also has an Alive() bool method is checked before it is
// promoted to Connected.
type Session interface {
	Close() error
}

// ConnectFunc opens a session to address.
type ConnectFunc func(ctx context.Context, address string) (Session, error)

// RecoverFunc looks up the device's current address after the first
// startup connect failure. It reports false when the device was not found.
type RecoverFunc func(ctx context.Context) (address string, ok bool)

// Availability receives availability transitions. Implemented by state.Hub.
type Availability interface {
	SetAvailable(available bool)
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Address is the last known device address.
	Address string

	// Connect opens a session. Required.
	Connect ConnectFunc

	// Recover is called once after the first failed connect. Optional.
	Recover RecoverFunc

	// Availability is told about availability transitions. Optional.
	Availability Availability

	// Backoff configures retry delays (default: 1s to 60s, no jitter).
	Backoff BackoffConfig

	// KeepaliveTimeout is the inbound silence that forces a reconnect
	// (default: 3 minutes).
	KeepaliveTimeout time.Duration

	// Logger receives operational logs. Optional.
	Logger *slog.Logger

	// ProtocolLogger receives state change capture events. Optional.
	ProtocolLogger log.Logger
}

type event struct {
	kind    Event
	gen     uint64
	session Session
	address string
	err     error
}

// Supervisor keeps one device session alive.
type Supervisor struct {
	config  SupervisorConfig
	backoff *Backoff
	logger  *slog.Logger
	plog    log.Logger

	mu            sync.RWMutex
	state         State
	address       string
	session       Session
	watchdog      *transport.Watchdog
	started       bool
	stopped       bool
	everConnected bool
	recoveryTried bool

	// Owned by the event loop
	gen uint64

	events       chan event
	done         chan struct{}
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once

	// Callbacks
	onStateChange  func(oldState, newState State)
	onConnected    func(session Session)
	onDisconnected func(err error)
	onReconnecting func(attempt int, delay time.Duration)
}

// NewSupervisor creates a stopped supervisor.
func NewSupervisor(config SupervisorConfig) *Supervisor {
	if config.KeepaliveTimeout <= 0 {
		config.KeepaliveTimeout = transport.DefaultInactivityTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Supervisor{
		config:  config,
		backoff: NewBackoffWithConfig(config.Backoff),
		logger:  logger.With("component", "supervisor"),
		plog:    log.OrNoop(config.ProtocolLogger),
		state:   StateDisconnected,
		address: config.Address,
		events:  make(chan event, 16),
		done:    make(chan struct{}),
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected returns true while a session is live.
func (s *Supervisor) IsConnected() bool {
	return s.State() == StateConnected
}

// Address returns the address used for the next attempt.
func (s *Supervisor) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// SetAddress changes the address used from the next attempt on.
func (s *Supervisor) SetAddress(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = address
}

// Session returns the live session, or nil.
func (s *Supervisor) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Backoff returns the supervisor's backoff timer.
func (s *Supervisor) Backoff() *Backoff {
	return s.backoff
}

// Start raises ConnectRequested and runs the event loop until Shutdown or
// until ctx is canceled.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.config.Connect == nil {
		return ErrNoConnectFunc
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrShutdown
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
	s.post(event{kind: EventConnectRequested})
	return nil
}

// NotifySessionLost reports that session died. Reports for a session that
// is no longer current are ignored.
func (s *Supervisor) NotifySessionLost(session Session, err error) {
	s.post(event{kind: EventSessionLost, session: session, err: err})
}

// Activity records inbound traffic on the live session.
func (s *Supervisor) Activity() {
	s.mu.RLock()
	w := s.watchdog
	s.mu.RUnlock()
	if w != nil {
		w.Touch()
	}
}

// Shutdown stops all timers, closes the session and moves to Disconnected
// for good. It blocks until the event loop has exited and is idempotent.
// Hooks must not call Shutdown.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		started := s.started
		s.mu.Unlock()

		if started {
			s.post(event{kind: EventShutdown})
		}
	})

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if started {
		<-s.done
		s.wg.Wait()
	}
}

// Done is closed when the event loop has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// post hands an event to the loop. After the loop has exited, a session
// carried by the event is closed.
func (s *Supervisor) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
		if ev.kind == EventConnectSucceeded && ev.session != nil {
			ev.session.Close()
		}
	}
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	var retry *time.Timer
	var retryC <-chan time.Time
	stopRetry := func() {
		if retry != nil {
			retry.Stop()
			retry, retryC = nil, nil
		}
	}
	schedule := func(d time.Duration) {
		stopRetry()
		retry = time.NewTimer(d)
		retryC = retry.C
	}
	connectFailed := func(ev event) {
		delay := s.backoff.Next()
		s.setState(StateReconnecting, ev.kind, ev.err)
		s.logger.Info("connect failed", "address", ev.address, "error", ev.err, "retry_in", delay)
		if s.onReconnecting != nil {
			s.onReconnecting(s.backoff.Attempts(), delay)
		}
		schedule(delay)
	}

	// earlyLoss holds a SessionLost that raced ahead of its ConnectSucceeded.
	var earlyLoss *event

	for {
		select {
		case <-ctx.Done():
			stopRetry()
			s.terminate(ctx.Err())
			return

		case <-retryC:
			retry, retryC = nil, nil
			s.beginConnect(ctx)

		case ev := <-s.events:
			switch ev.kind {
			case EventConnectRequested:
				if s.State() == StateDisconnected {
					s.beginConnect(ctx)
				}

			case EventConnectSucceeded:
				if ev.gen != s.gen || s.State() != StateConnecting {
					ev.session.Close()
					continue
				}
				if err := deadOnArrival(ev.session, earlyLoss); err != nil {
					earlyLoss = nil
					ev.session.Close()
					connectFailed(event{kind: EventConnectFailed, gen: ev.gen, address: ev.address, err: err})
					continue
				}
				earlyLoss = nil
				s.connected(ctx, ev)

			case EventConnectFailed:
				if ev.gen != s.gen || s.State() != StateConnecting {
					continue
				}
				earlyLoss = nil
				connectFailed(ev)

			case EventSessionLost, EventKeepaliveTimeout:
				if ev.kind == EventSessionLost && s.State() == StateConnecting && ev.session != nil {
					// The dial may not have been handed to us yet.
					earlyLoss = &ev
					continue
				}
				if s.State() != StateConnected {
					continue
				}
				if ev.kind == EventSessionLost && ev.session != s.Session() {
					continue
				}
				if ev.kind == EventKeepaliveTimeout && ev.gen != s.gen {
					continue
				}
				s.lost(ev)
				if s.onReconnecting != nil {
					s.onReconnecting(s.backoff.Attempts(), 0)
				}
				schedule(0)

			case EventShutdown:
				stopRetry()
				s.terminate(ErrShutdown)
				return
			}
		}
	}
}

// beginConnect moves to Connecting and dials in the background.
func (s *Supervisor) beginConnect(ctx context.Context) {
	s.gen++
	gen := s.gen

	s.mu.Lock()
	address := s.address
	tryRecover := s.config.Recover != nil && !s.everConnected && !s.recoveryTried
	if tryRecover {
		s.recoveryTried = true
	}
	s.mu.Unlock()

	s.setState(StateConnecting, EventConnectRequested, nil)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		session, err := s.config.Connect(ctx, address)
		if err != nil && tryRecover && ctx.Err() == nil {
			if recovered, ok := s.config.Recover(ctx); ok && recovered != "" && recovered != address {
				s.logger.Info("device found at new address", "old", address, "new", recovered)
				if session, err = s.config.Connect(ctx, recovered); err == nil {
					address = recovered
				}
			} else {
				s.logger.Info("address recovery found nothing, keeping last known address", "address", address)
			}
		}

		if err != nil {
			s.post(event{kind: EventConnectFailed, gen: gen, address: address, err: err})
			return
		}
		s.post(event{kind: EventConnectSucceeded, gen: gen, address: address, session: session})
	}()
}

// deadOnArrival reports why a freshly dialed session is already unusable,
// or nil if it may be promoted to Connected.
func deadOnArrival(session Session, earlyLoss *event) error {
	if earlyLoss != nil && earlyLoss.session == session {
		if earlyLoss.err != nil {
			return fmt.Errorf("%w: %v", errLostBeforeConnected, earlyLoss.err)
		}
		return errLostBeforeConnected
	}
	if l, ok := session.(interface{ Alive() bool }); ok && !l.Alive() {
		return errLostBeforeConnected
	}
	return nil
}

func (s *Supervisor) connected(ctx context.Context, ev event) {
	w := transport.NewWatchdog(s.config.KeepaliveTimeout, func() {
		s.post(event{kind: EventKeepaliveTimeout, gen: ev.gen})
	})

	s.mu.Lock()
	s.session = ev.session
	s.address = ev.address
	s.watchdog = w
	s.everConnected = true
	s.mu.Unlock()

	s.backoff.Reset()
	w.Start(ctx)
	if s.config.Availability != nil {
		s.config.Availability.SetAvailable(true)
	}
	s.setState(StateConnected, ev.kind, nil)
	s.logger.Info("connected", "address", ev.address)

	if s.onConnected != nil {
		s.onConnected(ev.session)
	}
}

// lost tears down the live session after SessionLost or KeepaliveTimeout.
func (s *Supervisor) lost(ev event) {
	err := ev.err
	if ev.kind == EventKeepaliveTimeout {
		err = errKeepalive
	}

	session := s.dropSession()
	if session != nil {
		session.Close()
	}

	s.setState(StateReconnecting, ev.kind, err)
	s.logger.Warn("connection lost", "reason", ev.kind.String(), "error", err)

	if s.config.Availability != nil {
		s.config.Availability.SetAvailable(false)
	}
	if s.onDisconnected != nil {
		s.onDisconnected(err)
	}
}

// terminate is the Shutdown transition.
func (s *Supervisor) terminate(reason error) {
	s.cancel()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	wasConnected := s.State() == StateConnected
	session := s.dropSession()
	if session != nil {
		session.Close()
	}

	s.setState(StateDisconnected, EventShutdown, reason)
	s.logger.Info("supervisor stopped")

	if s.config.Availability != nil {
		s.config.Availability.SetAvailable(false)
	}
	if wasConnected && s.onDisconnected != nil {
		s.onDisconnected(reason)
	}
}

func (s *Supervisor) dropSession() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	session := s.session
	s.session = nil
	return session
}

func (s *Supervisor) setState(newState State, cause Event, err error) {
	s.mu.Lock()
	oldState := s.state
	s.state = newState
	address := s.address
	s.mu.Unlock()

	if oldState == newState {
		return
	}

	sc := &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: oldState.String(),
		NewState: newState.String(),
		Reason:   cause.String(),
	}
	if err != nil {
		sc.Reason += ": " + err.Error()
	}
	s.plog.Log(log.Event{
		Timestamp:   time.Now(),
		Direction:   log.DirectionNone,
		Layer:       log.LayerSupervisor,
		Category:    log.CategoryState,
		RemoteAddr:  address,
		StateChange: sc,
	})
	s.logger.Debug("state change", "from", oldState, "to", newState, "event", cause)

	if s.onStateChange != nil {
		s.onStateChange(oldState, newState)
	}
}

var (
	errKeepalive           = errors.New("no inbound traffic within keepalive timeout")
	errLostBeforeConnected = errors.New("session closed before connect completed")
)

// OnStateChange sets a callback for state changes.
func (s *Supervisor) OnStateChange(fn func(oldState, newState State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnConnected sets a callback run after each successful connection.
func (s *Supervisor) OnConnected(fn func(session Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnected = fn
}

// OnDisconnected sets a callback run when a live session ends.
func (s *Supervisor) OnDisconnected(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnected = fn
}

// OnReconnecting sets a callback run when a retry is scheduled.
func (s *Supervisor) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnecting = fn
}
