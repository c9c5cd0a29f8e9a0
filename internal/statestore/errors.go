package statestore

import "errors"

// Domain-specific errors for the state store.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceIDRequired is returned when an operation is attempted
	// without a device identifier.
	ErrDeviceIDRequired = errors.New("statestore: device id is required")

	// ErrInvalidOutcome is returned when a record is attempted with an
	// outcome other than committed or failed.
	ErrInvalidOutcome = errors.New("statestore: outcome must be committed or failed")

	// ErrUncommittedState is returned when the store surfaces a last
	// state whose outcome tag is not committed. This should never occur
	// and indicates a programming-invariant violation.
	ErrUncommittedState = errors.New("statestore: last state is not committed")
)
