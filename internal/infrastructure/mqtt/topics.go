package mqtt

import "fmt"

// Topic prefixes for the controller's MQTT feed.
//
// Scheme: camperfleet/{category}/...
const (
	// TopicPrefixFleet is the base for fleet lifecycle topics.
	TopicPrefixFleet = "camperfleet/fleet"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "camperfleet/system"
)

// Topics provides builders for controller MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	eventTopic := topics.FleetEvent("new_device")
//	// Returns: "camperfleet/fleet/event/new_device"
type Topics struct{}

// FleetEvent returns the topic for a lifecycle event of the given action.
//
// Example: camperfleet/fleet/event/removed_stale
func (Topics) FleetEvent(action string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixFleet, action)
}

// FleetDeviceStatus returns the retained status topic for a device.
//
// Example: camperfleet/fleet/device/cam-1/status
func (Topics) FleetDeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/status", TopicPrefixFleet, deviceID)
}

// SystemStatus returns the controller status topic.
//
// Example: camperfleet/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
