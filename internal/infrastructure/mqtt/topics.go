package mqtt

import "fmt"

// Topic prefixes for the vivarium MQTT bus.
//
// Bridge topics use the flat scheme: vivarium/{category}/{transport}/{device_id}.
const (
	// TopicPrefix is the base for all vivarium topics.
	TopicPrefix = "vivarium"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "vivarium/system"
)

// Topics provides builders for vivarium MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// SensorReading returns the topic the sensor bridge publishes snapshots on.
//
// Example: vivarium/sensor/reading
func (Topics) SensorReading() string {
	return fmt.Sprintf("%s/sensor/reading", TopicPrefix)
}

// DeviceCommand returns the topic for actuator commands to a bridge.
//
// Example: vivarium/command/gpio/mister-1
func (Topics) DeviceCommand(transport, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, transport, deviceID)
}

// DeviceState returns the topic the core publishes committed state on.
// Published retained so late subscribers see the current state.
//
// Example: vivarium/state/mister-1
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Override returns the topic operators publish manual overrides on.
//
// Example: vivarium/override/mister-1
func (Topics) Override(deviceID string) string {
	return fmt.Sprintf("%s/override/%s", TopicPrefix, deviceID)
}

// SystemStatus returns the core online/offline status topic (retained, LWT).
//
// Example: vivarium/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllOverrides returns a pattern matching override topics for every device.
//
// Pattern: vivarium/override/+
func (Topics) AllOverrides() string {
	return fmt.Sprintf("%s/override/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching all committed state topics.
//
// Pattern: vivarium/state/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// DeviceIDFromTopic extracts the trailing device ID from a per-device
// topic such as vivarium/override/mister-1. Returns "" if the topic has
// no device segment.
func DeviceIDFromTopic(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return ""
}
