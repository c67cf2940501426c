package device

import (
	"math"
	"strconv"
	"strings"
)

// Wire keys.
const (
	KeyFanPower         = "fan_power"
	KeyLightPower       = "light_power"
	KeyPercentage       = "percentage"
	KeyBrightnessRaw    = "brightness"
	KeyColorTemperature = "colorTemperature"
	KeyVolume           = "volume"
	KeyMute             = "mute"
)

// State hub keys. Values are normalised as described in the package doc.
const (
	StateFanPower         = "fan_power"
	StateLightPower       = "light_power"
	StateBrightness       = "brightness"
	StateColorTemperature = "color_temperature"
	StateVolume           = "volume"
	StateMute             = "mute"
)

// Wire values.
const (
	ValueOn  = "ON"
	ValueOff = "OFF"
)

// Ranges.
const (
	MinColorTemperature = 2200
	MaxColorTemperature = 7000

	MinBrightness = 0
	MaxBrightness = 100

	MinVolume  = 0
	MaxVolume  = 100
	VolumeStep = 5

	rawBrightnessMax = 255
)

// TrackedKeys are queried on connect and on every poll.
var TrackedKeys = []string{
	KeyFanPower,
	KeyLightPower,
	KeyPercentage,
	KeyColorTemperature,
	KeyVolume,
	KeyMute,
}

// SupportedColorTemperatures are the device-scale values the firmware accepts.
var SupportedColorTemperatures = []int{2200, 2700, 5500, 7000}

// Convert maps one wire property to its hub key and value. ok is false for
// a value that cannot be interpreted, which is then dropped.
func Convert(key string, value any) (stateKey string, v any, ok bool) {
	switch key {
	case KeyFanPower, KeyLightPower, KeyMute:
		b, ok := parseBool(value)
		return key, b, ok

	case KeyPercentage:
		n, ok := toInt(value)
		return StateBrightness, clamp(n, MinBrightness, MaxBrightness), ok

	case KeyBrightnessRaw:
		n, ok := toInt(value)
		return StateBrightness, NormalizeBrightness(n), ok

	case KeyColorTemperature:
		n, ok := toInt(value)
		return StateColorTemperature, KelvinFromDevice(n), ok

	case KeyVolume:
		n, ok := toInt(value)
		return StateVolume, clamp(n, MinVolume, MaxVolume), ok

	default:
		return key, value, true
	}
}

// NormalizeBrightness maps raw 0-255 to 0-100.
func NormalizeBrightness(raw int) int {
	raw = clamp(raw, 0, rawBrightnessMax)
	return int(math.Round(float64(raw) * MaxBrightness / rawBrightnessMax))
}

// DenormalizeBrightness maps 0-100 to raw 0-255.
func DenormalizeBrightness(pct int) int {
	pct = clamp(pct, MinBrightness, MaxBrightness)
	return int(math.Round(float64(pct) * rawBrightnessMax / MaxBrightness))
}

// DeviceColorTemperature converts Kelvin to the device's inverted scale and
// snaps it to the nearest supported value. Ties go to the lower device value.
func DeviceColorTemperature(kelvin int) int {
	kelvin = clamp(kelvin, MinColorTemperature, MaxColorTemperature)
	device := MinColorTemperature + MaxColorTemperature - kelvin

	best := SupportedColorTemperatures[0]
	for _, t := range SupportedColorTemperatures[1:] {
		if abs(t-device) < abs(best-device) {
			best = t
		}
	}
	return best
}

// KelvinFromDevice converts a device-scale value back to Kelvin.
func KelvinFromDevice(device int) int {
	device = clamp(device, MinColorTemperature, MaxColorTemperature)
	return MinColorTemperature + MaxColorTemperature - device
}

// OnOff returns the wire value for a power state.
func OnOff(on bool) string {
	if on {
		return ValueOn
	}
	return ValueOff
}

func parseBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case ValueOn, "1", "TRUE":
			return true, true
		case ValueOff, "0", "FALSE":
			return false, true
		}
	case int64:
		return t != 0, true
	case float64:
		return t != 0, true
	}
	return false, false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(math.Round(t)), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

func clamp(n, lo, hi int) int {
	return max(lo, min(hi, n))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
