package mqtt

import "fmt"

// Topic prefixes for the relay's MQTT side channel.
const (
	// TopicPrefixNotify is the base for republished hub notifications.
	TopicPrefixNotify = "grayrelay/notify"

	// TopicPrefixSystem is the base for relay lifecycle topics.
	TopicPrefixSystem = "grayrelay/system"
)

// Topics provides builders for relay MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// Notify returns the topic a hub notification kind is republished on.
//
// Example: grayrelay/notify/connection_status
func (Topics) Notify(kind string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixNotify, kind)
}

// SystemStatus returns the topic for relay online/offline status.
// Published retained on connect and graceful shutdown, and as the LWT
// on unexpected disconnect.
//
// Topic: grayrelay/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
