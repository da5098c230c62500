package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the presence service.
const (
	MeasurementTransition  = "presence_transition"
	MeasurementProbeResult = "presence_probe"
)

// TransitionPoint builds the point recorded for one resource state change.
//
// The state is stored both as a tag (for grouping) and as the "alive" field
// (1 or 0) so availability can be charted as a ratio over time.
func TransitionPoint(monitorID, uri, host, state string, at time.Time) *write.Point {
	alive := 0
	if state == "alive" {
		alive = 1
	}
	return write.NewPoint(
		MeasurementTransition,
		map[string]string{
			"monitor_id": monitorID,
			"host":       host,
			"state":      state,
		},
		map[string]interface{}{
			"uri":   uri,
			"alive": alive,
		},
		at,
	)
}

// ProbeResultPoint builds the point recorded for one completed probe.
func ProbeResultPoint(host, uri, result string, latency time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementProbeResult,
		map[string]string{
			"host":   host,
			"result": result,
		},
		map[string]interface{}{
			"uri":        uri,
			"latency_ms": float64(latency) / float64(time.Millisecond),
		},
		at,
	)
}

// WriteTransition records a resource state change.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - monitorID: Monitor identifier (e.g., the uuid issued at registration)
//   - uri: Resource URI on its host
//   - host: Device host address
//   - state: New state in its wire form (e.g., "alive", "lost_signal")
//   - at: When the transition happened
func (c *Client) WriteTransition(monitorID, uri, host, state string, at time.Time) {
	c.write(TransitionPoint(monitorID, uri, host, state, at))
}

// WriteProbeResult records the outcome and round trip of a single probe.
func (c *Client) WriteProbeResult(host, uri, result string, latency time.Duration) {
	c.write(ProbeResultPoint(host, uri, result, latency, time.Now()))
}
