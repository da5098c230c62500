package presence

import "errors"

// Domain errors for the presence package.
//
// The broker state machine itself never returns errors; these are used by
// lookups and parsing at the edges of the package.
var (
	// ErrBrokerNotFound is returned when a broker ID is not in the table.
	ErrBrokerNotFound = errors.New("presence: broker not found")

	// ErrDeviceNotFound is returned when no device is tracked for a host.
	ErrDeviceNotFound = errors.New("presence: device not found")

	// ErrInvalidMode is returned when a mode string is not recognised.
	ErrInvalidMode = errors.New("presence: invalid mode")

	// ErrInvalidState is returned when a state string is not recognised.
	ErrInvalidState = errors.New("presence: invalid state")
)
