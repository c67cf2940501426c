package smartfan_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/homewerks-local/smartfan-go/internal/fakedevice"
	"github.com/homewerks-local/smartfan-go/pkg/connection"
	"github.com/homewerks-local/smartfan-go/pkg/device"
	"github.com/homewerks-local/smartfan-go/pkg/discovery"
	"github.com/homewerks-local/smartfan-go/pkg/identity"
	plog "github.com/homewerks-local/smartfan-go/pkg/log"
	"github.com/homewerks-local/smartfan-go/pkg/state"
)

const (
	fanUDN  = "uuid:FF31F09E-1A5B-4F3C-9D2A-00226C0A5E11"
	fanName = "Bathroom Fan"
	e2eWait = 3 * time.Second
	e2ePoll = 10 * time.Millisecond
)

const description = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <friendlyName>` + fanName + `</friendlyName>
    <manufacturer>Linkplay Technology Inc.</manufacturer>
    <modelName>WiiMu-A31</modelName>
    <UDN>` + fanUDN + `</UDN>
  </device>
</root>`

// testbed is a fake fan: a command port plus a UPnP description server,
// both on loopback.
type testbed struct {
	dev      *fakedevice.Server
	devPort  int
	descPort int
}

func newTestbed(t *testing.T) *testbed {
	t.Helper()

	dev := fakedevice.New(fakedevice.Config{})
	if err := dev.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start fake device: %v", err)
	}
	t.Cleanup(func() { dev.Stop() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != discovery.DescriptionPath {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, description)
	}))
	t.Cleanup(srv.Close)

	return &testbed{
		dev:      dev,
		devPort:  mustPort(t, dev.Addr()),
		descPort: mustPort(t, srv.Listener.Addr().String()),
	}
}

func (tb *testbed) discovery() *discovery.Service {
	return discovery.NewService(discovery.ServiceConfig{
		Source: discovery.StaticSource{"127.0.0.1"},
		Describer: discovery.NewHTTPDescriber(discovery.DescriberConfig{
			DescriptionPort: tb.descPort,
			MCUPort:         tb.devPort,
			Timeout:         time.Second,
		}),
		Timeout: 2 * time.Second,
	})
}

func mustPort(t *testing.T, addr string) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad address %q: %v", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatalf("bad port %q: %v", p, err)
	}
	return port
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(e2eWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(e2ePoll)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestE2E_Scan checks that discovery finds the fan through its description.
func TestE2E_Scan(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	tb := newTestbed(t)

	found, err := tb.discovery().Scan(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("Scan() found %d devices, want 1", len(found))
	}
	if !discovery.SameUDN(found[0].UDN, fanUDN) || found[0].FriendlyName != fanName {
		t.Errorf("Scan() = %+v", found[0])
	}

	host, err := tb.discovery().Resolve(context.Background(), fanUDN, "")
	if err != nil || host != "127.0.0.1" {
		t.Errorf("Resolve() = %q, %v", host, err)
	}
}

// TestE2E_Lifecycle runs a client from a v1 identity record through
// sync, UDN back-fill, a command, a dropped session and capture replay.
func TestE2E_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	tb := newTestbed(t)
	dir := t.TempDir()

	store := identity.NewStore(filepath.Join(dir, "identity.json"))
	if err := store.Save(&identity.Record{Version: identity.RecordVersionIPOnly, IP: "127.0.0.1", Port: tb.devPort}); err != nil {
		t.Fatalf("Failed to seed identity: %v", err)
	}
	rec, err := store.Load()
	if err != nil || rec == nil {
		t.Fatalf("Load() = %v, %v", rec, err)
	}
	id := identity.MigrateIdentity(*rec)
	if id.HasUDN() {
		t.Fatalf("migrated v1 record has UDN %q", id.UDN)
	}

	capturePath := filepath.Join(dir, "capture.cbor")
	capture, err := plog.NewFileLogger(capturePath)
	if err != nil {
		t.Fatalf("Failed to open capture: %v", err)
	}

	client, err := device.New(device.Config{
		Identity:       id,
		Discovery:      tb.discovery(),
		Persister:      store,
		PollInterval:   time.Hour,
		Backoff:        connection.BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond},
		ProtocolLogger: capture,
	})
	if err != nil {
		t.Fatalf("device.New() error = %v", err)
	}
	defer client.Close()

	var recovered atomic.Int32
	client.Subscribe(state.ListenerFuncs{
		AvailabilityChanged: func(available bool) {
			if available {
				recovered.Add(1)
			}
		},
	})

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitUntil(t, "initial sync", func() bool {
		_, ok := client.State().Get(device.StateVolume)
		return ok
	})

	waitUntil(t, "UDN back-fill", func() bool {
		rec, err := store.Load()
		return err == nil && rec != nil && rec.Version == identity.RecordVersion && discovery.SameUDN(rec.UDN, fanUDN)
	})
	if got := client.Identity(); !discovery.SameUDN(got.UDN, fanUDN) || got.Address != "127.0.0.1" {
		t.Errorf("Identity() = %+v", got)
	}
	if client.FriendlyName() != fanName {
		t.Errorf("FriendlyName() = %q, want %q", client.FriendlyName(), fanName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.SetFanPower(ctx, true); err != nil {
		t.Fatalf("SetFanPower() error = %v", err)
	}
	waitUntil(t, "fan on", func() bool {
		on, ok := client.State().Bool(device.StateFanPower)
		return ok && on
	})

	tb.dev.DropConnections()
	waitUntil(t, "reconnect", func() bool {
		return recovered.Load() >= 2 && client.Available()
	})
	waitUntil(t, "resync", func() bool {
		on, ok := client.State().Bool(device.StateFanPower)
		return ok && on
	})

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.Available() {
		t.Error("client still available after Close")
	}
	if err := capture.Close(); err != nil {
		t.Fatalf("capture Close() error = %v", err)
	}

	assertCapture(t, capturePath)
}

func assertCapture(t *testing.T, path string) {
	t.Helper()

	reader, err := plog.NewReader(path)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer reader.Close()

	var sentFan, frames, states, identities int
	conns := map[string]bool{}
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if ev.ConnectionID != "" {
			conns[ev.ConnectionID] = true
		}
		switch {
		case ev.Message != nil && ev.Direction == plog.DirectionOut && ev.Message.Key == device.KeyFanPower:
			// Queries carry an empty value, which the capture omits.
			if ev.Message.Value == device.ValueOn {
				sentFan++
			}
		case ev.Frame != nil:
			frames++
		case ev.StateChange != nil && ev.StateChange.Entity == plog.StateEntityIdentity:
			identities++
		case ev.StateChange != nil:
			states++
		}
	}

	if sentFan != 1 {
		t.Errorf("captured %d fan_power=ON commands, want 1", sentFan)
	}
	if frames == 0 {
		t.Error("no frames captured")
	}
	if states == 0 {
		t.Error("no connection state changes captured")
	}
	if identities == 0 {
		t.Error("no identity change captured")
	}
	if len(conns) < 2 {
		t.Errorf("captured %d sessions, want at least 2", len(conns))
	}
}
