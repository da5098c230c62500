// Package influxdb provides InfluxDB connectivity for the presence service.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, point writing, and health monitoring.
//
// # Purpose
//
// Every resource state transition and every completed probe is written as
// a point, so availability over time can be charted per host and resource:
//   - presence_transition: tags monitor_id, host, state; fields uri, alive
//   - presence_probe: tags host, result; fields uri, latency_ms
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteTransition(monitorID, "/sensors/temp", "bridge-01", "alive", time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via a
// callback. Connection and health check errors are returned directly.
package influxdb
