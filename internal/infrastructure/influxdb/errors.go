package influxdb

import "errors"

// Sentinel errors returned by Connect and HealthCheck. Write failures are
// asynchronous and only show up in Stats and the log.
var (
	// ErrDisabled means influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed means the server did not answer the startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)
