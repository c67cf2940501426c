package device

import (
	"context"
	"net"
	"strconv"

	"github.com/homewerks-local/smartfan-go/pkg/frame"
	"github.com/homewerks-local/smartfan-go/pkg/identity"
	"github.com/homewerks-local/smartfan-go/pkg/transport"
)

// SendCommand sends a single key/value. An empty-string value is a query.
func (c *Client) SendCommand(ctx context.Context, key string, value any) error {
	return c.SendCommands(ctx, frame.Command{key: value})
}

// SendCommands sends cmd as one frame. Without a live session it returns a
// *transport.SendError wrapping transport.ErrNotConnected; the supervisor
// is already reconnecting in that case.
func (c *Client) SendCommands(ctx context.Context, cmd frame.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sess := c.currentSession()
	if sess == nil {
		return &transport.SendError{Keys: cmd.Keys(), Err: transport.ErrNotConnected}
	}
	return sess.Send(cmd)
}

// RequestState asks the device to report every tracked key.
func (c *Client) RequestState(ctx context.Context) error {
	return c.SendCommands(ctx, frame.Query(TrackedKeys...))
}

// SetFanPower turns the fan on or off.
func (c *Client) SetFanPower(ctx context.Context, on bool) error {
	return c.SendCommand(ctx, KeyFanPower, OnOff(on))
}

// SetLightPower turns the light on or off.
func (c *Client) SetLightPower(ctx context.Context, on bool) error {
	return c.SendCommand(ctx, KeyLightPower, OnOff(on))
}

// SetBrightness sets the light level, clamped to 0-100.
func (c *Client) SetBrightness(ctx context.Context, pct int) error {
	return c.SendCommand(ctx, KeyPercentage, clamp(pct, MinBrightness, MaxBrightness))
}

// SetColorTemperature sets the light colour in Kelvin, clamped to
// 2200-7000 and snapped to a supported setting.
func (c *Client) SetColorTemperature(ctx context.Context, kelvin int) error {
	return c.SendCommand(ctx, KeyColorTemperature, DeviceColorTemperature(kelvin))
}

// LightOptions are optional attributes for TurnOnLight.
type LightOptions struct {
	// Brightness is 0-100. Nil keeps the current level.
	Brightness *int

	// Kelvin is the colour temperature. Nil keeps the current colour.
	Kelvin *int
}

// TurnOnLight powers the light on and applies opts in the same frame, so a
// power-on cannot reset the brightness after it was set.
func (c *Client) TurnOnLight(ctx context.Context, opts LightOptions) error {
	cmd := frame.Command{KeyLightPower: ValueOn}
	if opts.Brightness != nil {
		cmd[KeyPercentage] = clamp(*opts.Brightness, MinBrightness, MaxBrightness)
	}
	if opts.Kelvin != nil {
		cmd[KeyColorTemperature] = DeviceColorTemperature(*opts.Kelvin)
	}
	return c.SendCommands(ctx, cmd)
}

// SetVolume sets the speaker volume, clamped to 0-100.
func (c *Client) SetVolume(ctx context.Context, volume int) error {
	return c.SendCommand(ctx, KeyVolume, clamp(volume, MinVolume, MaxVolume))
}

// VolumeUp raises the volume by one step from the last known level.
func (c *Client) VolumeUp(ctx context.Context) error {
	return c.SetVolume(ctx, c.lastVolume()+VolumeStep)
}

// VolumeDown lowers the volume by one step from the last known level.
func (c *Client) VolumeDown(ctx context.Context) error {
	return c.SetVolume(ctx, c.lastVolume()-VolumeStep)
}

// SetMute mutes or unmutes the speaker.
func (c *Client) SetMute(ctx context.Context, mute bool) error {
	v := "0"
	if mute {
		v = "1"
	}
	return c.SendCommand(ctx, KeyMute, v)
}

// lastVolume is the last reported volume, or 50 if none was seen.
func (c *Client) lastVolume() int {
	if v, ok := c.hub.Snapshot().Int(StateVolume); ok {
		return v
	}
	return (MinVolume + MaxVolume) / 2
}

// TestConnection reports whether the command port at host accepts a TCP
// connection. port zero means 8899.
func TestConnection(ctx context.Context, host string, port int) error {
	if port == 0 {
		port = identity.DefaultPort
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, transport.DefaultConnectTimeout)
		defer cancel()
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return &transport.ConnectError{Address: address, Err: err}
	}
	return conn.Close()
}
