package monitor

import "errors"

// Sentinel errors for monitor operations.
var (
	// ErrTargetNotFound is returned when no monitor exists with the given ID.
	ErrTargetNotFound = errors.New("monitor: target not found")

	// ErrTargetExists is returned when a resource is already monitored.
	// The existing target is returned alongside it.
	ErrTargetExists = errors.New("monitor: resource already monitored")

	// ErrInvalidTarget is returned when a target fails validation.
	ErrInvalidTarget = errors.New("monitor: invalid target")

	// ErrClosed is returned by operations on a closed service.
	ErrClosed = errors.New("monitor: service closed")
)

// ErrInvalidRequester is returned when a watcher uses an empty or reserved
// requester ID.
var ErrInvalidRequester = errors.New("monitor: invalid requester id")
