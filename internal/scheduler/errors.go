package scheduler

import "errors"

// Domain-specific errors for the scheduler.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownDevice is returned when an override targets a device
	// not present in the loop.
	ErrUnknownDevice = errors.New("scheduler: unknown device")

	// ErrQuarantined is returned when an override targets a
	// quarantined device.
	ErrQuarantined = errors.New("scheduler: device is quarantined")

	// ErrNoDevices is returned when a loop is constructed without any
	// devices.
	ErrNoDevices = errors.New("scheduler: no devices configured")
)
