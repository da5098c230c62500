package influxdb

import "errors"

// Sentinel errors for the presence series writer. Check with errors.Is.
var (
	// ErrNotConnected is returned by writes and health checks after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps the ping failure seen by Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// The service treats it as "run without series output".
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
