// Package hubclient implements the relay's connection contract for real hub
// instances over websocket: an auth handshake with the instance's access
// token, outbound commands wrapped in an id-carrying JSON envelope, and
// inbound result/error/event frames mapped to the relay's inbound types.
//
// The relay core never imports this package; it is wired in at the
// top level, and tests substitute scripted connections.
package hubclient
