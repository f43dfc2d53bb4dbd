// Package mqtt owns the broker side of the bridge: a long-lived session
// that reconnects forever with a fixed backoff, a publish gateway that
// resolves topics and encodes payloads, and the presence state machine
// that drives the retained "<namespace>/status" topic.
//
// The session is written against the small [Conn] interface. The
// production implementation, [DialPaho], speaks MQTT v5 through Eclipse
// Paho's low-level client; tests substitute an in-memory connection.
//
// Every connection registers a will of "offline" on the status topic,
// so consumers see the bridge go away even when the process dies
// without publishing its own offline status.
package mqtt
