package device_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/homewerks-local/smartfan-go/internal/fakedevice"
	"github.com/homewerks-local/smartfan-go/pkg/connection"
	"github.com/homewerks-local/smartfan-go/pkg/device"
	"github.com/homewerks-local/smartfan-go/pkg/discovery"
	"github.com/homewerks-local/smartfan-go/pkg/discovery/mocks"
	"github.com/homewerks-local/smartfan-go/pkg/frame"
	"github.com/homewerks-local/smartfan-go/pkg/identity"
	"github.com/homewerks-local/smartfan-go/pkg/state"
	"github.com/homewerks-local/smartfan-go/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	fanUDN  = "uuid:FF31F09E-1A5B-4F3C-9D2A-00226C0A5E11"
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func startDevice(t *testing.T) *fakedevice.Server {
	t.Helper()
	dev := fakedevice.New(fakedevice.Config{})
	require.NoError(t, dev.Start(context.Background()))
	t.Cleanup(func() { dev.Stop() })
	return dev
}

// deviceIdentity returns an identity pointing at dev.
func deviceIdentity(t *testing.T, dev *fakedevice.Server, host string) identity.DeviceIdentity {
	t.Helper()
	port, err := portOf(dev.Addr())
	require.NoError(t, err)
	return identity.DeviceIdentity{Address: host, Port: port}
}

func newClient(t *testing.T, cfg device.Config) *device.Client {
	t.Helper()
	if cfg.Backoff == (connection.BackoffConfig{}) {
		cfg.Backoff = connection.BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}
	}
	c, err := device.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// startSynced starts c and waits for the initial state reply to land.
// Replies are applied in key order, so volume arrives last.
func startSynced(t *testing.T, c *device.Client) {
	t.Helper()
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool {
		_, ok := c.State().Get(device.StateVolume)
		return ok
	}, waitFor, tick)
}

type availabilityCounter struct {
	mu     sync.Mutex
	events []bool
}

func (a *availabilityCounter) OnStateChanged(state.Snapshot) {}

func (a *availabilityCounter) OnAvailabilityChanged(available bool) {
	a.mu.Lock()
	a.events = append(a.events, available)
	a.mu.Unlock()
}

func (a *availabilityCounter) count(v bool) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e == v {
			n++
		}
	}
	return n
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := device.New(device.Config{})
	assert.ErrorIs(t, err, device.ErrNoAddress)
}

func TestClientInitialSync(t *testing.T) {
	dev := startDevice(t)
	c := newClient(t, device.Config{Identity: deviceIdentity(t, dev, "127.0.0.1")})
	startSynced(t, c)

	snap := c.State()
	assert.True(t, snap.Available)

	fan, ok := snap.Bool(device.StateFanPower)
	require.True(t, ok)
	assert.False(t, fan)

	brightness, _ := snap.Int(device.StateBrightness)
	assert.Equal(t, 50, brightness)
	kelvin, _ := snap.Int(device.StateColorTemperature)
	assert.Equal(t, 6500, kelvin)
	volume, _ := snap.Int(device.StateVolume)
	assert.Equal(t, 20, volume)

	received := dev.Received()
	require.NotEmpty(t, received)
	assert.Equal(t, frame.Query(device.TrackedKeys...), received[0])
	assert.Equal(t, connection.StateConnected, c.ConnectionState())
}

// TestQueryReplyNotifiesOnce sends a fan_power query, has the device answer
// "1" and expects exactly one state notification.
func TestQueryReplyNotifiesOnce(t *testing.T) {
	dev := startDevice(t)
	c := newClient(t, device.Config{Identity: deviceIdentity(t, dev, "127.0.0.1")})
	startSynced(t, c)

	dev.SetSilent(true)

	var notified atomic.Int32
	c.Subscribe(state.ListenerFuncs{StateChanged: func(state.Snapshot) { notified.Add(1) }})

	before := len(dev.Received())
	require.NoError(t, c.SendCommand(context.Background(), device.KeyFanPower, ""))
	require.Eventually(t, func() bool { return len(dev.Received()) > before }, waitFor, tick)
	assert.Equal(t, frame.Command{"fan_power": ""}, dev.Received()[before])

	require.NoError(t, dev.Push(frame.Command{"fan_power": "1"}))
	require.Eventually(t, func() bool {
		on, _ := c.State().Bool(device.StateFanPower)
		return on
	}, waitFor, tick)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), notified.Load())
}

// TestSessionLostNotifiesEachSubscriberOnce drops the connection with three
// subscribers registered.
func TestSessionLostNotifiesEachSubscriberOnce(t *testing.T) {
	dev := startDevice(t)
	c := newClient(t, device.Config{Identity: deviceIdentity(t, dev, "127.0.0.1")})
	startSynced(t, c)

	subs := []*availabilityCounter{{}, {}, {}}
	for _, s := range subs {
		c.Subscribe(s)
	}

	dev.DropConnections()

	for _, s := range subs {
		require.Eventually(t, func() bool { return s.count(true) == 1 }, waitFor, tick, "reconnect")
	}
	time.Sleep(50 * time.Millisecond)
	for i, s := range subs {
		assert.Equal(t, 1, s.count(false), "subscriber %d", i)
	}
	assert.Equal(t, 2, dev.Accepted())
}

// TestReconnectWaitsForReply reconnects to a device that does not answer
// and expects the hub to stay unavailable until it does.
func TestReconnectWaitsForReply(t *testing.T) {
	dev := startDevice(t)
	c := newClient(t, device.Config{Identity: deviceIdentity(t, dev, "127.0.0.1")})
	startSynced(t, c)

	dev.SetSilent(true)
	dev.DropConnections()

	require.Eventually(t, func() bool {
		return dev.Accepted() == 2 && c.ConnectionState() == connection.StateConnected
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)

	assert.False(t, c.Available())
	_, ok := c.State().Get(device.StateVolume)
	assert.False(t, ok, "value from before the outage reported as current")
	_, ok = c.State().LastKnown(device.StateVolume)
	assert.True(t, ok)

	dev.SetSilent(false)
	require.NoError(t, c.RequestState(context.Background()))
	require.Eventually(t, c.Available, waitFor, tick)
}

func TestSendWithoutSession(t *testing.T) {
	c := newClient(t, device.Config{Identity: identity.DeviceIdentity{Address: "127.0.0.1"}})

	err := c.SetFanPower(context.Background(), true)
	var sendErr *transport.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Equal(t, []string{"fan_power"}, sendErr.Keys)
}

func TestSendCanceledContext(t *testing.T) {
	c := newClient(t, device.Config{Identity: identity.DeviceIdentity{Address: "127.0.0.1"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.SetFanPower(ctx, true), context.Canceled)
}

func TestCommands(t *testing.T) {
	dev := startDevice(t)
	c := newClient(t, device.Config{Identity: deviceIdentity(t, dev, "127.0.0.1")})
	startSynced(t, c)
	ctx := context.Background()

	last := func() frame.Command {
		r := dev.Received()
		return r[len(r)-1]
	}
	sent := func(t *testing.T, err error, want frame.Command) {
		t.Helper()
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return assert.ObjectsAreEqual(want, last())
		}, waitFor, tick, "device did not receive %v", want)
	}

	t.Run("FanPower", func(t *testing.T) {
		sent(t, c.SetFanPower(ctx, true), frame.Command{"fan_power": "ON"})
		require.Eventually(t, func() bool {
			on, _ := c.State().Bool(device.StateFanPower)
			return on
		}, waitFor, tick)
	})

	t.Run("LightPower", func(t *testing.T) {
		sent(t, c.SetLightPower(ctx, false), frame.Command{"light_power": "OFF"})
	})

	t.Run("BrightnessClamped", func(t *testing.T) {
		sent(t, c.SetBrightness(ctx, 150), frame.Command{"percentage": int64(100)})
	})

	t.Run("ColorTemperatureSnapped", func(t *testing.T) {
		sent(t, c.SetColorTemperature(ctx, 6400), frame.Command{"colorTemperature": int64(2700)})
	})

	t.Run("TurnOnLightCombined", func(t *testing.T) {
		b, k := 30, 2200
		sent(t, c.TurnOnLight(ctx, device.LightOptions{Brightness: &b, Kelvin: &k}), frame.Command{
			"light_power":      "ON",
			"percentage":       int64(30),
			"colorTemperature": int64(7000),
		})
	})

	t.Run("TurnOnLightPowerOnly", func(t *testing.T) {
		sent(t, c.TurnOnLight(ctx, device.LightOptions{}), frame.Command{"light_power": "ON"})
	})

	t.Run("Volume", func(t *testing.T) {
		sent(t, c.SetVolume(ctx, 40), frame.Command{"volume": int64(40)})
		require.Eventually(t, func() bool {
			v, _ := c.State().Int(device.StateVolume)
			return v == 40
		}, waitFor, tick)

		sent(t, c.VolumeUp(ctx), frame.Command{"volume": int64(45)})
		require.Eventually(t, func() bool {
			v, _ := c.State().Int(device.StateVolume)
			return v == 45
		}, waitFor, tick)

		sent(t, c.VolumeDown(ctx), frame.Command{"volume": int64(40)})
	})

	t.Run("Mute", func(t *testing.T) {
		sent(t, c.SetMute(ctx, true), frame.Command{"mute": "1"})
		require.Eventually(t, func() bool {
			muted, _ := c.State().Bool(device.StateMute)
			return muted
		}, waitFor, tick)
	})

	t.Run("RequestState", func(t *testing.T) {
		sent(t, c.RequestState(ctx), frame.Query(device.TrackedKeys...))
	})
}

func TestPollerRequestsState(t *testing.T) {
	dev := startDevice(t)
	c := newClient(t, device.Config{
		Identity:     deviceIdentity(t, dev, "127.0.0.1"),
		PollInterval: 20 * time.Millisecond,
	})
	startSynced(t, c)

	require.Eventually(t, func() bool {
		queries := 0
		for _, cmd := range dev.Received() {
			if assert.ObjectsAreEqual(frame.Query(device.TrackedKeys...), cmd) {
				queries++
			}
		}
		return queries >= 3
	}, waitFor, tick)
}

func TestCloseLeavesUnavailable(t *testing.T) {
	dev := startDevice(t)
	c := newClient(t, device.Config{Identity: deviceIdentity(t, dev, "127.0.0.1")})
	startSynced(t, c)

	require.NoError(t, c.Close())
	assert.False(t, c.Available())
	assert.Equal(t, connection.StateDisconnected, c.ConnectionState())
	assert.ErrorIs(t, c.Start(context.Background()), device.ErrClosed)
	require.NoError(t, c.Close())
}

func TestUDNBackfill(t *testing.T) {
	dev := startDevice(t)

	describer := mocks.NewMockDescriber(t)
	describer.EXPECT().Describe(mock.Anything, "127.0.0.1").Return(&discovery.DiscoveredDevice{
		Host:         "127.0.0.1",
		UDN:          fanUDN,
		UUID:         "FF31F09E1A5B4F3C9D2A00226C0A5E11",
		FriendlyName: "Bathroom Fan",
	}, nil).Once()

	store := identity.NewStore(filepath.Join(t.TempDir(), "identity.json"))
	old := identity.MigrateIdentity(identity.Record{IP: "127.0.0.1"})
	old.Port = deviceIdentity(t, dev, "127.0.0.1").Port

	c := newClient(t, device.Config{
		Identity:  old,
		Discovery: discovery.NewService(discovery.ServiceConfig{Source: discovery.StaticSource{}, Describer: describer}),
		Persister: store,
	})

	changed := make(chan identity.DeviceIdentity, 1)
	c.OnIdentityChanged(func(id identity.DeviceIdentity) { changed <- id })
	require.NoError(t, c.Start(context.Background()))

	select {
	case id := <-changed:
		assert.Equal(t, fanUDN, id.UDN)
		assert.Equal(t, "127.0.0.1", id.Address)
	case <-time.After(waitFor):
		t.Fatal("identity not back-filled")
	}

	rec, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, identity.RecordVersion, rec.Version)
	assert.Equal(t, fanUDN, rec.UDN)
	assert.Equal(t, "Bathroom Fan", rec.FriendlyName)
	assert.Equal(t, "Bathroom Fan", c.FriendlyName())
}

// TestAddressRecovery migrates an ip-only record whose address went stale
// and expects discovery to move it to the device's new address.
func TestAddressRecovery(t *testing.T) {
	dev := startDevice(t)

	source := mocks.NewMockSource(t)
	describer := mocks.NewMockDescriber(t)
	describer.EXPECT().Describe(mock.Anything, "127.0.0.2").Return(nil, discovery.ErrNotSmartFan).Maybe()
	source.EXPECT().Candidates(mock.Anything).Return([]string{"127.0.0.2", "127.0.0.1"}, nil).Once()
	describer.EXPECT().Describe(mock.Anything, "127.0.0.1").Return(&discovery.DiscoveredDevice{
		Host: "127.0.0.1",
		UDN:  fanUDN,
	}, nil)

	old := identity.MigrateIdentity(identity.Record{Version: identity.RecordVersion, UDN: fanUDN, IP: "127.0.0.2"})
	old.Port = deviceIdentity(t, dev, "127.0.0.1").Port

	store := identity.NewStore(filepath.Join(t.TempDir(), "identity.json"))
	c := newClient(t, device.Config{
		Identity:       old,
		Discovery:      discovery.NewService(discovery.ServiceConfig{Source: source, Describer: describer, Timeout: time.Second}),
		Persister:      store,
		ConnectTimeout: 200 * time.Millisecond,
	})

	changed := make(chan identity.DeviceIdentity, 1)
	c.OnIdentityChanged(func(id identity.DeviceIdentity) { changed <- id })
	require.NoError(t, c.Start(context.Background()))

	select {
	case id := <-changed:
		assert.Equal(t, "127.0.0.1", id.Address)
		assert.Equal(t, fanUDN, id.UDN)
	case <-time.After(waitFor):
		t.Fatal("address not recovered")
	}

	require.Eventually(t, c.Available, waitFor, tick)
	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", rec.IP)
	assert.Equal(t, fanUDN, rec.UDN)
}

type fakeDiscoverer struct {
	resolves atomic.Int32
}

func (f *fakeDiscoverer) Resolve(context.Context, string, string) (string, error) {
	f.resolves.Add(1)
	return "", discovery.ErrNotFound
}

func (f *fakeDiscoverer) Describe(context.Context, string) (*discovery.DiscoveredDevice, error) {
	return nil, errors.New("unreachable")
}

func TestAddressRecoveryNotFoundKeepsRetrying(t *testing.T) {
	disc := &fakeDiscoverer{}
	c := newClient(t, device.Config{
		Identity:       identity.DeviceIdentity{UDN: fanUDN, Address: "127.0.0.1", Port: closedPort(t)},
		Discovery:      disc,
		ConnectTimeout: 200 * time.Millisecond,
	})

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return disc.resolves.Load() == 1 }, waitFor, tick)

	// Several backoff rounds pass without another lookup.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), disc.resolves.Load())
	assert.NotEqual(t, connection.StateConnected, c.ConnectionState())
	assert.Equal(t, "127.0.0.1", c.Identity().Address)
	assert.False(t, c.Available())
}

func TestTestConnection(t *testing.T) {
	dev := startDevice(t)
	port, err := portOf(dev.Addr())
	require.NoError(t, err)

	assert.NoError(t, device.TestConnection(context.Background(), "127.0.0.1", port))

	err = device.TestConnection(context.Background(), "127.0.0.1", closedPort(t))
	var connErr *transport.ConnectError
	assert.ErrorAs(t, err, &connErr)
}
