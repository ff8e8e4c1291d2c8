package rio

import (
	"errors"
	"fmt"
)

// Domain errors for the RIO client package.
var (
	// ErrNotConnected is returned when an operation requires a session
	// but the client is neither connected nor reconnecting.
	ErrNotConnected = errors.New("rio: not connected to controller")

	// ErrAlreadyConnected is returned by Connect when a session is already running.
	ErrAlreadyConnected = errors.New("rio: already connected")

	// ErrConnectionFailed is returned when dialling or the connect handshake fails.
	ErrConnectionFailed = errors.New("rio: connection to controller failed")

	// ErrConnectionLost is returned to the in-flight command when the
	// transport fails before its reply arrives.
	ErrConnectionLost = errors.New("rio: connection lost")

	// ErrUnsupportedFeature is returned when the controller reports an API
	// version below the configured minimum.
	ErrUnsupportedFeature = errors.New("rio: unsupported controller version")

	// ErrInvalidVersion is returned when a firmware version string cannot be parsed.
	ErrInvalidVersion = errors.New("rio: invalid version string")

	// ErrUncachedVariable is returned when a variable has not been observed yet.
	ErrUncachedVariable = errors.New("rio: variable not cached")

	// ErrCommandRejected matches every *CommandError via errors.Is.
	ErrCommandRejected = errors.New("rio: command rejected by controller")

	// ErrCancelled is returned to the in-flight command when its session is
	// shut down before the reply arrives.
	ErrCancelled = errors.New("rio: command cancelled")

	// ErrClosed is returned to queued commands when the client is closed.
	ErrClosed = errors.New("rio: client closed")

	// ErrInvalidCommand is returned when command text contains a line break.
	// One call must put exactly one command on the wire.
	ErrInvalidCommand = errors.New("rio: invalid command text")

	// ErrInvalidDeviceID is returned when a device identifier is malformed.
	ErrInvalidDeviceID = errors.New("rio: invalid device identifier")
)

// CommandError carries the message the controller returned in an E reply.
type CommandError struct {
	// Command is the command text that was rejected.
	Command string

	// Message is the device-reported reason.
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("rio: command %q rejected: %s", e.Command, e.Message)
}

// Is reports whether target is ErrCommandRejected.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandRejected
}
