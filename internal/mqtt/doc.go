// Package mqtt is the broker transport of the device.
//
// [Channel] wraps a single Eclipse Paho v2 client session. It does not
// reconnect on its own: the connectivity supervisor decides when to
// connect, with which client id, and re-subscribes after every connect.
// Inbound messages arrive on the Paho goroutine and are queued in an
// [Inbox] that the control loop drains at a fixed point in its tick.
//
// [Announcer] publishes Home Assistant MQTT discovery configs and the
// availability birth message on every (re-)connect. The channel's will
// message turns the availability topic "offline" on unexpected
// disconnects.
package mqtt
