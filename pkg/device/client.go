package device

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/homewerks-local/smartfan-go/pkg/connection"
	"github.com/homewerks-local/smartfan-go/pkg/discovery"
	"github.com/homewerks-local/smartfan-go/pkg/frame"
	"github.com/homewerks-local/smartfan-go/pkg/identity"
	"github.com/homewerks-local/smartfan-go/pkg/log"
	"github.com/homewerks-local/smartfan-go/pkg/poller"
	"github.com/homewerks-local/smartfan-go/pkg/state"
	"github.com/homewerks-local/smartfan-go/pkg/transport"
)

// Client errors.
var (
	ErrNoAddress = errors.New("device address is required")
	ErrClosed    = errors.New("client closed")
)

// DefaultIdentityTimeout bounds UDN back-fill and address recovery.
const DefaultIdentityTimeout = 30 * time.Second

// Discoverer locates the device on the network. Implemented by
// *discovery.Service.
type Discoverer interface {
	Resolve(ctx context.Context, udn, previous string) (string, error)
	Describe(ctx context.Context, host string) (*discovery.DiscoveredDevice, error)
}

// Config configures a Client.
type Config struct {
	// Identity is the device to connect to. Address is required.
	Identity identity.DeviceIdentity

	// Discovery recovers the address after an IP change and back-fills a
	// missing UDN. Optional.
	Discovery Discoverer

	// Persister stores identity changes. Optional.
	Persister identity.Persister

	// Hub receives device state. Default: a new hub.
	Hub *state.Hub

	// PollInterval between state polls (default: 30s).
	PollInterval time.Duration

	// KeepaliveTimeout is the inbound silence that forces a reconnect
	// (default: 3 minutes).
	KeepaliveTimeout time.Duration

	// ConnectTimeout bounds each TCP connect (default: 5s).
	ConnectTimeout time.Duration

	// Backoff configures reconnect delays (default: 1s to 60s).
	Backoff connection.BackoffConfig

	// Logger receives operational logs. Optional.
	Logger *slog.Logger

	// ProtocolLogger captures frames and state changes. Optional.
	ProtocolLogger log.Logger
}

// Client drives one device.
type Client struct {
	config     Config
	logger     *slog.Logger
	hub        *state.Hub
	gate       *availabilityGate
	dialer     *transport.Dialer
	supervisor *connection.Supervisor
	poller     *poller.Poller

	mu           sync.RWMutex
	identity     identity.DeviceIdentity
	uuid         string
	friendlyName string
	session      *transport.Session
	started      bool
	closed       bool
	ctx          context.Context
	cancel       context.CancelFunc

	onIdentityChanged func(identity.DeviceIdentity)

	wg sync.WaitGroup
}

// New creates a stopped client.
func New(config Config) (*Client, error) {
	if config.Identity.Address == "" {
		return nil, ErrNoAddress
	}
	if config.Identity.Port == 0 {
		config.Identity.Port = identity.DefaultPort
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hub := config.Hub
	if hub == nil {
		hub = state.NewHub()
	}

	c := &Client{
		config:   config,
		logger:   logger.With("component", "device"),
		hub:      hub,
		gate:     &availabilityGate{hub: hub},
		identity: config.Identity,
	}

	c.dialer = transport.NewDialer(transport.DialerConfig{
		ConnectTimeout: config.ConnectTimeout,
		Logger:         logger.With("component", "transport"),
		ProtocolLogger: config.ProtocolLogger,
	})

	sup := connection.SupervisorConfig{
		Address:          config.Identity.Address,
		Connect:          c.connect,
		Availability:     c.gate,
		Backoff:          config.Backoff,
		KeepaliveTimeout: config.KeepaliveTimeout,
		Logger:           logger,
		ProtocolLogger:   config.ProtocolLogger,
	}
	if config.Discovery != nil {
		sup.Recover = c.recoverAddress
	}
	c.supervisor = connection.NewSupervisor(sup)
	c.supervisor.OnConnected(c.handleConnected)
	c.supervisor.OnDisconnected(c.handleDisconnected)
	c.supervisor.OnReconnecting(func(attempt int, delay time.Duration) {
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
	})

	c.poller = poller.New(poller.Config{
		Interval: config.PollInterval,
		Query:    c.RequestState,
		Logger:   logger,
	})

	return c, nil
}

// Start begins connecting in the background. It returns immediately; watch
// the hub for availability.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return connection.ErrAlreadyStarted
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	ctx = c.ctx
	c.mu.Unlock()

	return c.supervisor.Start(ctx)
}

// Close shuts the client down. The hub ends unavailable. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	c.supervisor.Shutdown()
	c.poller.Stop()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	return nil
}

// Hub returns the state hub.
func (c *Client) Hub() *state.Hub {
	return c.hub
}

// State returns the current state snapshot.
func (c *Client) State() state.Snapshot {
	return c.hub.Snapshot()
}

// Subscribe registers a state listener.
func (c *Client) Subscribe(l state.Listener) state.Handle {
	return c.hub.Subscribe(l)
}

// Unsubscribe removes a state listener.
func (c *Client) Unsubscribe(h state.Handle) bool {
	return c.hub.Unsubscribe(h)
}

// Available reports whether a session is live.
func (c *Client) Available() bool {
	return c.hub.Available()
}

// ConnectionState returns the supervisor state.
func (c *Client) ConnectionState() connection.State {
	return c.supervisor.State()
}

// Identity returns the current device identity.
func (c *Client) Identity() identity.DeviceIdentity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// FriendlyName returns the name discovery reported, if any.
func (c *Client) FriendlyName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.friendlyName
}

// OnIdentityChanged sets a callback for address or UDN changes. It runs
// after the change has been persisted.
func (c *Client) OnIdentityChanged(fn func(identity.DeviceIdentity)) {
	c.mu.Lock()
	c.onIdentityChanged = fn
	c.mu.Unlock()
}

// connect is the supervisor's ConnectFunc.
func (c *Client) connect(ctx context.Context, address string) (connection.Session, error) {
	c.mu.RLock()
	port := c.identity.Port
	c.mu.RUnlock()

	h := &sessionHandler{client: c, ready: make(chan struct{})}
	sess, err := c.dialer.Dial(ctx, net.JoinHostPort(address, strconv.Itoa(port)), h)
	if err != nil {
		return nil, err
	}
	h.session = sess
	close(h.ready)
	return sess, nil
}

// recoverAddress is the supervisor's RecoverFunc.
func (c *Client) recoverAddress(ctx context.Context) (string, bool) {
	id := c.Identity()
	if !id.HasUDN() {
		c.logger.Info("cannot recover address without UDN", "address", id.Address)
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultIdentityTimeout)
	defer cancel()

	host, err := c.config.Discovery.Resolve(ctx, id.UDN, id.Address)
	if err != nil {
		c.logger.Info("address recovery failed", "udn", id.UDN, "error", err)
		return "", false
	}
	return host, true
}

func (c *Client) handleConnected(s connection.Session) {
	sess, ok := s.(*transport.Session)
	if !ok {
		return
	}

	c.mu.Lock()
	c.session = sess
	ctx := c.ctx
	previous := c.identity
	c.mu.Unlock()

	if addr := c.supervisor.Address(); addr != previous.Address {
		c.setIdentity(previous.WithAddress(addr), "", "")
	}

	if err := sess.QueryAll(TrackedKeys); err != nil {
		c.logger.Debug("initial query failed", "error", err)
	}
	c.poller.Start(ctx)

	if !previous.HasUDN() && c.config.Discovery != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.backfillUDN(ctx, c.supervisor.Address())
		}()
	}
}

func (c *Client) handleDisconnected(err error) {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	c.poller.Stop()
	c.logger.Info("disconnected", "error", err)
}

// backfillUDN asks discovery for the identity of the connected host.
func (c *Client) backfillUDN(ctx context.Context, host string) {
	ctx, cancel := context.WithTimeout(ctx, DefaultIdentityTimeout)
	defer cancel()

	dev, err := c.config.Discovery.Describe(ctx, host)
	if err != nil {
		c.logger.Info("UDN back-fill failed", "host", host, "error", err)
		return
	}
	if dev.UDN == "" {
		return
	}

	id := c.Identity()
	if id.HasUDN() {
		return
	}
	c.setIdentity(id.WithUDN(dev.UDN), dev.UUID, dev.FriendlyName)
}

// setIdentity stores, persists and announces a new identity.
func (c *Client) setIdentity(id identity.DeviceIdentity, uuid, friendlyName string) {
	c.mu.Lock()
	old := c.identity
	c.identity = id
	if uuid != "" {
		c.uuid = uuid
	}
	if friendlyName != "" {
		c.friendlyName = friendlyName
	}
	uuid, friendlyName = c.uuid, c.friendlyName
	fn := c.onIdentityChanged
	c.mu.Unlock()

	c.logger.Info("identity changed", "udn", id.UDN, "address", id.Address, "previous", old.Address)
	c.logIdentity(old, id)

	if c.config.Persister != nil {
		rec := identity.NewRecord(id, uuid, friendlyName)
		if err := c.config.Persister.Save(&rec); err != nil {
			c.logger.Warn("failed to persist identity", "error", err)
		}
	}
	if fn != nil {
		fn(id)
	}
}

func (c *Client) logIdentity(old, id identity.DeviceIdentity) {
	if c.config.ProtocolLogger == nil {
		return
	}
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  log.DirectionNone,
		Layer:      log.LayerSupervisor,
		Category:   log.CategoryState,
		RemoteAddr: id.HostPort(),
		UDN:        id.UDN,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityIdentity,
			OldState: old.HostPort(),
			NewState: id.HostPort(),
		},
	})
}

// currentSession returns the live session or nil.
func (c *Client) currentSession() *transport.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil || !c.session.Alive() {
		return nil
	}
	return c.session
}

// sessionHandler routes one session's callbacks into the client.
type sessionHandler struct {
	client  *Client
	session *transport.Session
	ready   chan struct{}
}

func (h *sessionHandler) OnMessage(msg frame.Message) {
	c := h.client
	c.supervisor.Activity()

	key, value, ok := Convert(msg.Key, msg.Value)
	if ok {
		c.hub.Update(key, value)
	} else {
		c.logger.Debug("unrecognised value", "key", msg.Key, "value", msg.Value)
	}

	select {
	case <-h.ready:
		if c.currentSession() == h.session {
			c.gate.Heard()
		}
	default:
	}
}

func (h *sessionHandler) OnMalformed(err error) {
	h.client.logger.Debug("malformed frame skipped", "error", err)
}

func (h *sessionHandler) OnSessionLost(err error) {
	<-h.ready
	h.client.supervisor.NotifySessionLost(h.session, err)
}
