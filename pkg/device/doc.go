// Package device is the upward interface to one smart fan.
//
// A Client owns the whole stack for a single device: a connection
// Supervisor that keeps a transport session alive, a Poller that re-queries
// state while connected, a state Hub that subscribers read and watch, and
// an optional discovery service used to recover the device after an IP
// change.
//
// Inbound property messages are converted before they reach the hub:
//
//	fan_power, light_power   "ON"/"OFF" (or "1"/"0")  -> bool
//	mute                     "1"/"0" (or "ON"/"OFF")  -> bool
//	percentage               0-100                    -> brightness 0-100
//	brightness               raw 0-255                -> brightness 0-100
//	colorTemperature         device scale Kelvin      -> Kelvin
//	volume                   0-100                    -> volume 0-100
//
// Other keys are stored as received.
//
// Commands are never applied to the hub optimistically. The device echoes
// every accepted change, and the echo is what updates state.
package device
