// Package mqtt provides the optional MQTT side channel for Gray Logic Relay.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Notification republishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The relay's primary notification surface is its WebSocket hub. When MQTT
// is enabled, every notification the hub would deliver is additionally
// republished to the broker so that headless consumers (dashboards,
// automations, other services) can observe relay activity without holding
// a WebSocket session.
//
//	Relay notify hub → MQTT Broker → external subscribers
//
// The relay only publishes; it never consumes commands from the broker.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.Notify("connection_status")
//	client.Publish(topic, payload, 1, false)
package mqtt
