// Package notify fans already-computed notifications out to every
// authenticated portal identity over websocket, with optional MQTT
// republishing for non-portal consumers.
//
// The hub keeps an explicit identity registry populated at session start
// and end. Delivery is best effort: a dead or slow connection is logged and
// skipped per identity, and the system identity never receives broadcasts.
package notify
