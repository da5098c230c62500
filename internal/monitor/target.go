package monitor

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-presence/internal/presence"
)

// Transport selects how a resource is probed.
type Transport string

// Supported transports.
const (
	TransportMQTT Transport = "mqtt"
	TransportHTTP Transport = "http"
)

// Target is a persisted monitor definition.
type Target struct {
	// ID is the monitor identifier (uuid), assigned on registration.
	ID string `json:"id"`

	// URI names the resource on its host.
	URI string `json:"uri"`

	// Host is the device address that groups resources.
	Host string `json:"host"`

	// Transport selects the probe (mqtt or http). Empty means mqtt.
	Transport Transport `json:"transport"`

	// URL is the probe URL for http targets.
	URL string `json:"url,omitempty"`

	// CreatedAt is when the target was first registered (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Normalise fills defaults and trims whitespace.
func (t *Target) Normalise() {
	t.URI = strings.TrimSpace(t.URI)
	t.Host = strings.TrimSpace(t.Host)
	t.URL = strings.TrimSpace(t.URL)
	if t.Transport == "" {
		t.Transport = TransportMQTT
	}
}

// Validate checks the target can be monitored.
//
// Returns:
//   - error: wrapping ErrInvalidTarget describing the first problem found
func (t Target) Validate() error {
	if t.URI == "" {
		return fmt.Errorf("%w: uri is required", ErrInvalidTarget)
	}
	if t.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidTarget)
	}

	switch t.Transport {
	case TransportMQTT, "":
		if !mqtt.ValidLevel(t.Host) {
			return fmt.Errorf("%w: host %q is not a valid topic level", ErrInvalidTarget, t.Host)
		}
	case TransportHTTP:
		u, err := url.Parse(t.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: http target needs an absolute http(s) url", ErrInvalidTarget)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidTarget, t.Transport)
	}

	return nil
}

// Status combines a target with a snapshot of its broker.
type Status struct {
	Target
	Presence presence.Info `json:"presence"`
}

// Transition is one state change of a monitored resource.
type Transition struct {
	// ID is the history row id; zero until persisted.
	ID int64 `json:"id,omitempty"`

	MonitorID string         `json:"monitor_id"`
	URI       string         `json:"uri"`
	Host      string         `json:"host"`
	State     presence.State `json:"state"`
	Mode      presence.Mode  `json:"mode"`
	Timestamp time.Time      `json:"timestamp"`
}

// DeviceEvent is published when a device's presence state changes.
type DeviceEvent struct {
	Host      string         `json:"host"`
	State     presence.State `json:"state"`
	Timestamp time.Time      `json:"timestamp"`
}

// devicePresencePayload is the body of a device presence message.
type devicePresencePayload struct {
	Result string `json:"result"`
}
