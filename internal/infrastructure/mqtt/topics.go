package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the presence service.
//
// Probe traffic uses graylogic/presence/{kind}/{host}. State topics are
// retained so late subscribers see the current value.
const (
	// TopicPrefixPresence is the base for all presence topics.
	TopicPrefixPresence = "graylogic/presence"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for presence MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	reqTopic := topics.ProbeRequest("10.0.0.5")
//	// Returns: "graylogic/presence/request/10.0.0.5"
type Topics struct{}

// =============================================================================
// Probe Topics
// =============================================================================

// ProbeRequest returns the topic GET probes for a host are published on.
//
// Example: graylogic/presence/request/10.0.0.5
func (Topics) ProbeRequest(host string) string {
	return fmt.Sprintf("%s/request/%s", TopicPrefixPresence, host)
}

// ProbeResponse returns the topic a host answers probes on.
//
// Example: graylogic/presence/response/10.0.0.5
func (Topics) ProbeResponse(host string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefixPresence, host)
}

// DevicePresence returns the topic for device-wide presence events.
//
// Example: graylogic/presence/device/10.0.0.5
func (Topics) DevicePresence(host string) string {
	return fmt.Sprintf("%s/device/%s", TopicPrefixPresence, host)
}

// =============================================================================
// State Topics (retained)
// =============================================================================

// ResourceState returns the retained state topic for a monitored resource.
//
// Example: graylogic/presence/state/6f1c2a40-...
func (Topics) ResourceState(monitorID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefixPresence, monitorID)
}

// DeviceState returns the retained state topic for a device.
//
// Example: graylogic/presence/device_state/10.0.0.5
func (Topics) DeviceState(host string) string {
	return fmt.Sprintf("%s/device_state/%s", TopicPrefixPresence, host)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the topic for service online/offline status.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// =============================================================================
// Wildcard Subscriptions
// =============================================================================

// AllProbeResponses returns a wildcard pattern for probe responses from every host.
//
// Pattern: graylogic/presence/response/+
func (Topics) AllProbeResponses() string {
	return TopicPrefixPresence + "/response/+"
}

// AllDevicePresence returns a wildcard pattern for device presence events.
//
// Pattern: graylogic/presence/device/+
func (Topics) AllDevicePresence() string {
	return TopicPrefixPresence + "/device/+"
}

// AllResourceStates returns a wildcard pattern for every retained resource state.
//
// Pattern: graylogic/presence/state/+
func (Topics) AllResourceStates() string {
	return TopicPrefixPresence + "/state/+"
}

// LastSegment returns the final level of a topic, which is the host or ID
// for every per-entity topic above.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// ValidLevel reports whether s can be used as a single topic level.
// Wildcards and separators are not allowed.
func ValidLevel(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#")
}
