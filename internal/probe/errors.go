package probe

import "errors"

var (
	// ErrInvalidResponse is returned for a probe response that cannot be matched.
	ErrInvalidResponse = errors.New("probe: invalid response")

	// ErrNotStarted is returned when the prober is used before Start.
	ErrNotStarted = errors.New("probe: prober not started")
)
