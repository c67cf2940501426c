package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const linkplayDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>Bathroom Fan</friendlyName>
    <manufacturer>Linkplay Technology Inc.</manufacturer>
    <modelName>WiiMu-A31</modelName>
    <modelDescription>Smart Fan Speaker</modelDescription>
    <UDN>uuid:FF31F09E-1A5B-4F3C-9D2A-00226C0A5E11</UDN>
    <uuid>FF31F09E1A5B4F3C9D2A00226C0A5E11</uuid>
  </device>
</root>`

// descriptionServer serves body at /description.xml and returns the port.
func descriptionServer(t *testing.T, status int, body string) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DescriptionPath {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return portOf(t, srv.Listener.Addr())
}

// openPort returns a loopback port that accepts connections.
func openPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return portOf(t, ln.Addr())
}

// closedPort returns a loopback port with nothing listening.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := portOf(t, ln.Addr())
	ln.Close()
	return port
}

func portOf(t *testing.T, addr net.Addr) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return port
}

func TestParseDescription(t *testing.T) {
	t.Run("Linkplay", func(t *testing.T) {
		dev, err := ParseDescription([]byte(linkplayDescription))
		require.NoError(t, err)

		assert.Equal(t, "uuid:FF31F09E-1A5B-4F3C-9D2A-00226C0A5E11", dev.UDN)
		assert.Equal(t, "FF31F09E1A5B4F3C9D2A00226C0A5E11", dev.UUID)
		assert.Equal(t, "Bathroom Fan", dev.FriendlyName)
		assert.Equal(t, "Linkplay Technology Inc.", dev.Manufacturer)
		assert.Equal(t, "WiiMu-A31", dev.ModelName)
		assert.Equal(t, "Smart Fan Speaker", dev.ModelDescription)
		assert.Empty(t, dev.Host)
	})

	t.Run("DefaultFriendlyName", func(t *testing.T) {
		dev, err := ParseDescription([]byte(`<root><device><manufacturer>Linkplay</manufacturer></device></root>`))
		require.NoError(t, err)
		assert.Equal(t, DefaultFriendlyName, dev.FriendlyName)
		assert.Empty(t, dev.UDN)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := ParseDescription([]byte("<root><device>"))
		assert.ErrorIs(t, err, ErrInvalidDescription)
	})
}

func TestHTTPDescriber(t *testing.T) {
	ctx := context.Background()

	t.Run("Accepted", func(t *testing.T) {
		d := NewHTTPDescriber(DescriberConfig{
			DescriptionPort: descriptionServer(t, http.StatusOK, linkplayDescription),
			MCUPort:         openPort(t),
			Timeout:         time.Second,
		})

		dev, err := d.Describe(ctx, "127.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", dev.Host)
		assert.Equal(t, "uuid:FF31F09E-1A5B-4F3C-9D2A-00226C0A5E11", dev.UDN)
	})

	t.Run("OtherManufacturer", func(t *testing.T) {
		body := `<root><device><manufacturer>Acme</manufacturer><UDN>uuid:x</UDN></device></root>`
		d := NewHTTPDescriber(DescriberConfig{
			DescriptionPort: descriptionServer(t, http.StatusOK, body),
			MCUPort:         openPort(t),
			Timeout:         time.Second,
		})

		_, err := d.Describe(ctx, "127.0.0.1")
		assert.ErrorIs(t, err, ErrNotSmartFan)
	})

	t.Run("MCUPortClosed", func(t *testing.T) {
		d := NewHTTPDescriber(DescriberConfig{
			DescriptionPort: descriptionServer(t, http.StatusOK, linkplayDescription),
			MCUPort:         closedPort(t),
			Timeout:         time.Second,
		})

		_, err := d.Describe(ctx, "127.0.0.1")
		assert.ErrorIs(t, err, ErrNotSmartFan)
	})

	t.Run("HTTPError", func(t *testing.T) {
		d := NewHTTPDescriber(DescriberConfig{
			DescriptionPort: descriptionServer(t, http.StatusInternalServerError, ""),
			MCUPort:         openPort(t),
			Timeout:         time.Second,
		})

		_, err := d.Describe(ctx, "127.0.0.1")
		assert.ErrorIs(t, err, ErrNotSmartFan)
	})

	t.Run("NoServer", func(t *testing.T) {
		d := NewHTTPDescriber(DescriberConfig{
			DescriptionPort: closedPort(t),
			Timeout:         time.Second,
		})

		_, err := d.Describe(ctx, "127.0.0.1")
		assert.ErrorIs(t, err, ErrNotSmartFan)
	})

	t.Run("BadXML", func(t *testing.T) {
		d := NewHTTPDescriber(DescriberConfig{
			DescriptionPort: descriptionServer(t, http.StatusOK, "not xml at all <"),
			MCUPort:         openPort(t),
			Timeout:         time.Second,
		})

		_, err := d.Describe(ctx, "127.0.0.1")
		assert.ErrorIs(t, err, ErrInvalidDescription)
		assert.False(t, errors.Is(err, ErrNotSmartFan))
	})
}

func TestDefaultDescriberConfig(t *testing.T) {
	cfg := DefaultDescriberConfig()
	assert.Equal(t, 49152, cfg.DescriptionPort)
	assert.Equal(t, 8899, cfg.MCUPort)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestSameUDN(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"uuid:ABC-1", "uuid:ABC-1", true},
		{"uuid:ABC-1", "abc-1", true},
		{"UUID:abc-1", "uuid:ABC-1", true},
		{" uuid:abc-1 ", "uuid:abc-1", true},
		{"uuid:abc-1", "uuid:abc-2", false},
		{"", "uuid:abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, SameUDN(tt.a, tt.b))
		})
	}
}

func TestIdentityMismatchError(t *testing.T) {
	err := error(&IdentityMismatchError{Host: "10.0.0.5", Expected: "uuid:a", Found: "uuid:b"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "10.0.0.5")

	var mm *IdentityMismatchError
	require.ErrorAs(t, fmt.Errorf("resolve: %w", err), &mm)
	assert.Equal(t, "uuid:b", mm.Found)
}
