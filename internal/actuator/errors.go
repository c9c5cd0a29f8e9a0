package actuator

import "errors"

// Domain-specific errors for the actuator port.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownDevice is returned when a command targets a device not
	// present in the configuration.
	ErrUnknownDevice = errors.New("actuator: unknown device")

	// ErrCommandFailed is returned when a command could not be
	// delivered to the device's bridge.
	ErrCommandFailed = errors.New("actuator: command delivery failed")
)
