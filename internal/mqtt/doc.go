// Package mqtt mirrors task change events onto an MQTT broker so other
// systems can react to them without polling the API.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained "online" birth message to the
// availability topic. A will message flips that topic to "offline" on
// unexpected disconnects.
package mqtt
