// Package mqtt publishes Home Assistant MQTT discovery messages and
// periodic sensor states describing the assistant, so Hearth appears as
// a native device in the home it serves.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for each
// sensor and a birth message ("online") to the availability topic. A
// will message moves availability to "offline" on unexpected
// disconnects.
package mqtt
