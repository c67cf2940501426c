// Package mqtt mirrors the fan's state onto an MQTT broker and accepts
// commands from it.
//
// Topics, for prefix "smartfan":
//
//	smartfan/state              retained JSON object of the last known values
//	smartfan/available          retained "online" or "offline"
//	smartfan/bridge             retained bridge status, "offline" via LWT
//	smartfan/set/<key>          command input, e.g. set/fan_power = ON
//
// Accepted command keys are fan_power, light_power, brightness,
// color_temperature, volume, mute and refresh. Commands are forwarded to
// the device as is; state topics change only when the device reports the
// new value.
//
// The bridge talks to the broker through the Broker interface. Client is
// the paho.mqtt.golang implementation.
package mqtt
