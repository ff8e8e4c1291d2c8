package rio

import "errors"

// Domain errors for the RIO bridge package.
var (
	// ErrNotConfigured is returned when a device is not in the bridge configuration.
	ErrNotConfigured = errors.New("rio bridge: device not configured")

	// ErrInvalidCommand is returned for unknown commands or commands that do
	// not apply to the target device kind.
	ErrInvalidCommand = errors.New("rio bridge: invalid command")

	// ErrInvalidParameters is returned when command parameters are missing
	// or out of range.
	ErrInvalidParameters = errors.New("rio bridge: invalid parameters")

	// ErrStopped is returned when the bridge has been stopped.
	ErrStopped = errors.New("rio bridge: stopped")
)
