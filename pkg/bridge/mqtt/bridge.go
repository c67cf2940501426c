package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/homewerks-local/smartfan-go/pkg/device"
	"github.com/homewerks-local/smartfan-go/pkg/state"
)

// CommandRefresh asks the device to report every tracked key.
const CommandRefresh = "refresh"

// DefaultCommandTimeout bounds a single forwarded command.
const DefaultCommandTimeout = 5 * time.Second

// Device is the upward interface the bridge drives. *device.Client
// implements it.
type Device interface {
	Subscribe(l state.Listener) state.Handle
	Unsubscribe(h state.Handle) bool
	State() state.Snapshot

	SetFanPower(ctx context.Context, on bool) error
	SetLightPower(ctx context.Context, on bool) error
	SetBrightness(ctx context.Context, pct int) error
	SetColorTemperature(ctx context.Context, kelvin int) error
	SetVolume(ctx context.Context, volume int) error
	SetMute(ctx context.Context, mute bool) error
	RequestState(ctx context.Context) error
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	TopicPrefix    string
	QoS            byte
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

// Bridge publishes hub changes to the broker and forwards set/<key>
// messages to the device.
//
// Hub notifications only mark the latest snapshot as pending; a single
// goroutine publishes it, so a slow broker never blocks the hub.
type Bridge struct {
	broker Broker
	device Device
	config BridgeConfig
	topics Topics
	logger *slog.Logger

	mu           sync.Mutex
	pendingState *state.Snapshot
	pendingAvail *bool
	handle       state.Handle
	running      bool

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// NewBridge creates a bridge between broker and dev.
func NewBridge(broker Broker, dev Device, config BridgeConfig) *Bridge {
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = DefaultCommandTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		broker: broker,
		device: dev,
		config: config,
		topics: Topics{Prefix: config.TopicPrefix},
		logger: logger.With("component", "bridge"),
		wake:   make(chan struct{}, 1),
	}
}

// Topics returns the topic set the bridge uses.
func (b *Bridge) Topics() Topics {
	return b.topics
}

// Start subscribes to the command topics and to the device, then
// publishes the current state.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	b.mu.Unlock()

	if err := b.broker.Subscribe(b.topics.AllSets(), b.config.QoS, b.handleCommand); err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return err
	}

	handle := b.device.Subscribe(state.ListenerFuncs{
		StateChanged:        b.queueState,
		AvailabilityChanged: b.queueAvailability,
	})
	b.mu.Lock()
	b.handle = handle
	b.mu.Unlock()

	snap := b.device.State()
	b.queueAvailability(snap.Available)
	b.queueState(snap)

	go b.run(ctx)
	b.logger.Info("bridge started", "prefix", b.topics.prefix())
	return nil
}

// Stop detaches from the device and marks it offline on the broker.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	handle := b.handle
	b.mu.Unlock()

	b.device.Unsubscribe(handle)
	close(b.stopCh)
	<-b.done

	if err := b.broker.Publish(b.topics.Available(), []byte(PayloadOffline), b.config.QoS, true); err != nil {
		b.logger.Debug("offline publish failed", "error", err)
	}
}

func (b *Bridge) queueState(s state.Snapshot) {
	b.mu.Lock()
	b.pendingState = &s
	b.mu.Unlock()
	b.signal()
}

func (b *Bridge) queueAvailability(available bool) {
	b.mu.Lock()
	b.pendingAvail = &available
	b.mu.Unlock()
	b.signal()
}

func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-b.wake:
			b.flush()
		}
	}
}

func (b *Bridge) flush() {
	b.mu.Lock()
	snap, avail := b.pendingState, b.pendingAvail
	b.pendingState, b.pendingAvail = nil, nil
	b.mu.Unlock()

	if avail != nil {
		payload := PayloadOffline
		if *avail {
			payload = PayloadOnline
		}
		if err := b.broker.Publish(b.topics.Available(), []byte(payload), b.config.QoS, true); err != nil {
			b.logger.Warn("availability publish failed", "error", err)
		}
	}
	if snap != nil {
		payload, err := StatePayload(*snap)
		if err != nil {
			b.logger.Error("state encode failed", "error", err)
			return
		}
		if err := b.broker.Publish(b.topics.State(), payload, b.config.QoS, true); err != nil {
			b.logger.Warn("state publish failed", "error", err)
		}
	}
}

// StatePayload encodes the last known values of s as a JSON object.
func StatePayload(s state.Snapshot) ([]byte, error) {
	values := s.Values
	if values == nil {
		values = map[string]any{}
	}
	return json.Marshal(values)
}

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	key, ok := b.topics.CommandKey(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrUnknownCommand, topic)
	}
	text := strings.TrimSpace(string(payload))

	ctx, cancel := context.WithTimeout(context.Background(), b.config.CommandTimeout)
	defer cancel()

	b.logger.Debug("command received", "key", key, "payload", text)

	switch key {
	case device.StateFanPower:
		on, err := parseSwitch(text)
		if err != nil {
			return err
		}
		return b.device.SetFanPower(ctx, on)
	case device.StateLightPower:
		on, err := parseSwitch(text)
		if err != nil {
			return err
		}
		return b.device.SetLightPower(ctx, on)
	case device.StateMute:
		on, err := parseSwitch(text)
		if err != nil {
			return err
		}
		return b.device.SetMute(ctx, on)
	case device.StateBrightness:
		n, err := parseNumber(text)
		if err != nil {
			return err
		}
		return b.device.SetBrightness(ctx, n)
	case device.StateColorTemperature:
		n, err := parseNumber(text)
		if err != nil {
			return err
		}
		return b.device.SetColorTemperature(ctx, n)
	case device.StateVolume:
		n, err := parseNumber(text)
		if err != nil {
			return err
		}
		return b.device.SetVolume(ctx, n)
	case CommandRefresh:
		return b.device.RequestState(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, key)
	}
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToUpper(s) {
	case "ON", "TRUE", "1":
		return true, nil
	case "OFF", "FALSE", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not ON or OFF", ErrInvalidPayload, s)
}

func parseNumber(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidPayload, s)
	}
	return int(math.Round(f)), nil
}
