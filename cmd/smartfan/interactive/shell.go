// Package interactive provides the interactive command-line interface
// for smartfan.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/homewerks-local/smartfan-go/pkg/connection"
	"github.com/homewerks-local/smartfan-go/pkg/device"
	"github.com/homewerks-local/smartfan-go/pkg/discovery"
	"github.com/homewerks-local/smartfan-go/pkg/identity"
	"github.com/homewerks-local/smartfan-go/pkg/state"
)

// commandTimeout bounds each device command issued from the shell.
const commandTimeout = 5 * time.Second

// Controller is the device surface the shell drives. *device.Client
// implements it.
type Controller interface {
	State() state.Snapshot
	Identity() identity.DeviceIdentity
	FriendlyName() string
	ConnectionState() connection.State

	SetFanPower(ctx context.Context, on bool) error
	SetLightPower(ctx context.Context, on bool) error
	TurnOnLight(ctx context.Context, opts device.LightOptions) error
	SetBrightness(ctx context.Context, pct int) error
	SetColorTemperature(ctx context.Context, kelvin int) error
	SetVolume(ctx context.Context, volume int) error
	VolumeUp(ctx context.Context) error
	VolumeDown(ctx context.Context) error
	SetMute(ctx context.Context, mute bool) error
	RequestState(ctx context.Context) error
}

// Scanner finds devices on the LAN. *discovery.Service implements it.
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration) ([]discovery.DiscoveredDevice, error)
}

// Shell handles interactive mode.
type Shell struct {
	ctrl        Controller
	scanner     Scanner
	scanTimeout time.Duration
	rl          *readline.Instance
}

// New creates a shell. scanner may be nil, which disables the scan command.
func New(ctrl Controller, scanner Scanner, scanTimeout time.Duration) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "smartfan> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	s := newShell(ctrl, scanner, scanTimeout)
	s.rl = rl
	return s, nil
}

func newShell(ctrl Controller, scanner Scanner, scanTimeout time.Duration) *Shell {
	if scanTimeout <= 0 {
		scanTimeout = discovery.DefaultScanTimeout
	}
	return &Shell{ctrl: ctrl, scanner: scanner, scanTimeout: scanTimeout}
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use it for log output.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Stderr returns a writer that coordinates with the readline prompt.
func (s *Shell) Stderr() io.Writer {
	return s.rl.Stderr()
}

// Run reads commands until quit, EOF or ctx is done. cancel is called when
// the user exits.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	out := s.rl.Stdout()
	printHelp(out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}

		if quit := s.Execute(ctx, line, out); quit {
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and writes its output to out. It reports
// true when the line asks to quit.
func (s *Shell) Execute(ctx context.Context, line string, out io.Writer) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		printHelp(out)
	case "state", "s":
		s.cmdState(out)
	case "identity", "id":
		s.cmdIdentity(out)
	case "fan", "f":
		s.cmdSwitch(ctx, out, "fan", args, s.ctrl.SetFanPower)
	case "light", "l":
		s.cmdLight(ctx, out, args)
	case "brightness", "b":
		s.cmdNumber(ctx, out, "brightness <0-100>", args, s.ctrl.SetBrightness)
	case "temp", "t":
		s.cmdNumber(ctx, out, "temp <2200-7000>", args, s.ctrl.SetColorTemperature)
	case "volume", "v":
		s.cmdVolume(ctx, out, args)
	case "mute", "m":
		s.cmdSwitch(ctx, out, "mute", args, s.ctrl.SetMute)
	case "refresh", "r":
		s.run(ctx, out, s.ctrl.RequestState)
	case "scan":
		s.cmdScan(ctx, out)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, `
Smart Fan Commands:
  Device:
    state                   - Show current state
    identity                - Show address, UDN and connection state
    refresh                 - Ask the device to report all values
    scan                    - Search the LAN for fans

  Control:
    fan on|off              - Fan power
    light on|off [pct] [K]  - Light power, optional brightness and colour
    brightness <0-100>      - Light level
    temp <2200-7000>        - Colour temperature in Kelvin
    volume <0-100>|up|down  - Speaker volume
    mute on|off             - Speaker mute

  General:
    help                    - Show this help
    quit                    - Exit`)
}

func (s *Shell) cmdState(out io.Writer) {
	snap := s.ctrl.State()
	if snap.Available {
		fmt.Fprintln(out, "Available: yes")
	} else {
		fmt.Fprintln(out, "Available: no (values are last known)")
	}
	keys := snap.Keys()
	if len(keys) == 0 {
		fmt.Fprintln(out, "  (no values reported yet)")
		return
	}
	for _, k := range keys {
		v, _ := snap.LastKnown(k)
		fmt.Fprintf(out, "  %-18s %s\n", k+":", formatValue(k, v))
	}
	if !snap.LastUpdated.IsZero() {
		fmt.Fprintf(out, "Updated: %s\n", snap.LastUpdated.Format(time.RFC3339))
	}
}

func formatValue(key string, v any) string {
	switch key {
	case device.StateFanPower, device.StateLightPower:
		if b, ok := v.(bool); ok {
			return device.OnOff(b)
		}
	case device.StateMute:
		if b, ok := v.(bool); ok {
			if b {
				return "muted"
			}
			return "unmuted"
		}
	case device.StateBrightness, device.StateVolume:
		return fmt.Sprintf("%v%%", v)
	case device.StateColorTemperature:
		return fmt.Sprintf("%vK", v)
	}
	return fmt.Sprint(v)
}

func (s *Shell) cmdIdentity(out io.Writer) {
	id := s.ctrl.Identity()
	udn := id.UDN
	if udn == "" {
		udn = "(unknown)"
	}
	fmt.Fprintf(out, "Address:    %s\n", id.HostPort())
	fmt.Fprintf(out, "UDN:        %s\n", udn)
	if name := s.ctrl.FriendlyName(); name != "" {
		fmt.Fprintf(out, "Name:       %s\n", name)
	}
	fmt.Fprintf(out, "Connection: %s\n", s.ctrl.ConnectionState())
}

func (s *Shell) cmdSwitch(ctx context.Context, out io.Writer, name string, args []string, set func(context.Context, bool) error) {
	if len(args) != 1 {
		fmt.Fprintf(out, "Usage: %s on|off\n", name)
		return
	}
	on, ok := parseSwitch(args[0])
	if !ok {
		fmt.Fprintf(out, "Usage: %s on|off\n", name)
		return
	}
	s.run(ctx, out, func(ctx context.Context) error { return set(ctx, on) })
}

func (s *Shell) cmdNumber(ctx context.Context, out io.Writer, usage string, args []string, set func(context.Context, int) error) {
	if len(args) != 1 {
		fmt.Fprintf(out, "Usage: %s\n", usage)
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(out, "Invalid number: %s\n", args[0])
		return
	}
	s.run(ctx, out, func(ctx context.Context) error { return set(ctx, n) })
}

func (s *Shell) cmdLight(ctx context.Context, out io.Writer, args []string) {
	if len(args) == 0 || len(args) > 3 {
		fmt.Fprintln(out, "Usage: light on|off [brightness] [kelvin]")
		return
	}
	on, ok := parseSwitch(args[0])
	if !ok {
		fmt.Fprintln(out, "Usage: light on|off [brightness] [kelvin]")
		return
	}
	if !on || len(args) == 1 {
		s.run(ctx, out, func(ctx context.Context) error { return s.ctrl.SetLightPower(ctx, on) })
		return
	}

	var opts device.LightOptions
	nums := make([]int, 0, 2)
	for _, a := range args[1:] {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.ToUpper(a), "K"))
		if err != nil {
			fmt.Fprintf(out, "Invalid number: %s\n", a)
			return
		}
		nums = append(nums, n)
	}
	opts.Brightness = &nums[0]
	if len(nums) == 2 {
		opts.Kelvin = &nums[1]
	}
	s.run(ctx, out, func(ctx context.Context) error { return s.ctrl.TurnOnLight(ctx, opts) })
}

func (s *Shell) cmdVolume(ctx context.Context, out io.Writer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: volume <0-100>|up|down")
		return
	}
	switch strings.ToLower(args[0]) {
	case "up", "+":
		s.run(ctx, out, s.ctrl.VolumeUp)
	case "down", "-":
		s.run(ctx, out, s.ctrl.VolumeDown)
	default:
		s.cmdNumber(ctx, out, "volume <0-100>|up|down", args, s.ctrl.SetVolume)
	}
}

func (s *Shell) cmdScan(ctx context.Context, out io.Writer) {
	if s.scanner == nil {
		fmt.Fprintln(out, "Discovery is disabled")
		return
	}
	fmt.Fprintf(out, "Scanning for up to %s...\n", s.scanTimeout)
	found, err := s.scanner.Scan(ctx, s.scanTimeout)
	if err != nil && !errors.Is(err, discovery.ErrDiscoveryTimeout) {
		fmt.Fprintf(out, "Scan failed: %v\n", err)
		return
	}
	if len(found) == 0 {
		fmt.Fprintln(out, "No devices found")
		return
	}
	for _, d := range found {
		fmt.Fprintf(out, "  %-15s %-24s %s\n", d.Host, d.FriendlyName, d.UDN)
	}
	if err != nil {
		fmt.Fprintln(out, "(scan timed out, list may be incomplete)")
	}
}

// run issues one device command with the shell's timeout.
func (s *Shell) run(ctx context.Context, out io.Writer, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(out, "OK")
}

func parseSwitch(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, true
	case "off", "0", "false":
		return false, true
	}
	return false, false
}
