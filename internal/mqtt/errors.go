package mqtt

import "errors"

// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails,
	// e.g. refused credentials or an unreachable broker.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrStopped is returned by Connect after Disconnect has been called.
	ErrStopped = errors.New("mqtt: client stopped")

	// ErrTimeout is returned when a publish or subscribe is not acknowledged in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
