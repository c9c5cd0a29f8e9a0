package statestore

import (
	"context"
	"time"
)

// Outcome tags a transition attempt as confirmed or failed.
type Outcome string

// Outcome values.
const (
	// OutcomeCommitted marks a transition confirmed by an actuator
	// acknowledgment. Only committed transitions advance LastState.
	OutcomeCommitted Outcome = "committed"

	// OutcomeFailed marks a transition whose command attempts were
	// exhausted. The device is left at its last confirmed state.
	OutcomeFailed Outcome = "failed"
)

// Origin tags how a transition was initiated.
type Origin string

// Origin values.
const (
	// OriginScheduled marks a transition decided by policy evaluation.
	OriginScheduled Origin = "scheduled"

	// OriginManual marks a transition injected by an operator override.
	OriginManual Origin = "manual"
)

// DeviceState is the commanded state of a single device.
//
// It is owned exclusively by the store: the policy engine only reads the
// last committed state, and mutation happens only after a confirmed
// actuator acknowledgment.
type DeviceState struct {
	// DeviceID is the unique device identifier.
	DeviceID string `json:"device_id"`

	// IsOn reports whether the device is switched on.
	IsOn bool `json:"is_on"`

	// Level is an optional variable-speed level (e.g. fan speed).
	// Nil for plain on/off devices.
	Level *int `json:"level,omitempty"`

	// StartedAt is the start of the current run for fixed-duration
	// devices. Nil when the device is off or not duration-governed.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// Outcome is the outcome tag of the transition that produced this
	// state. LastState must only ever return committed states; anything
	// else is a programming-invariant violation.
	Outcome Outcome `json:"outcome"`

	// UpdatedAt is when this state was recorded (UTC).
	UpdatedAt time.Time `json:"updated_at"`
}

// SameSetting reports whether two states command the same device
// setting (on/off and level). StartedAt and timestamps are excluded:
// a running fixed-duration device is not re-commanded just because its
// run started at a different instant.
func (s DeviceState) SameSetting(other DeviceState) bool {
	if s.IsOn != other.IsOn {
		return false
	}
	if (s.Level == nil) != (other.Level == nil) {
		return false
	}
	if s.Level != nil && *s.Level != *other.Level {
		return false
	}
	return true
}

// TransitionRecord is a single append-only history entry.
//
// Invariant: for any device, the most recent committed record's NewState
// equals the DeviceState currently believed to be true in hardware.
type TransitionRecord struct {
	// ID is the unique record identifier (UUID).
	ID string `json:"id"`

	// DeviceID is the device the transition applies to.
	DeviceID string `json:"device_id"`

	// PreviousState is the state before the attempt. Nil for a device's
	// first ever transition.
	PreviousState *DeviceState `json:"previous_state,omitempty"`

	// NewState is the state the attempt tried to establish.
	NewState DeviceState `json:"new_state"`

	// Origin distinguishes scheduled policy decisions from manual
	// operator overrides.
	Origin Origin `json:"origin"`

	// Outcome is committed or failed.
	Outcome Outcome `json:"outcome"`

	// CreatedAt is the attempt timestamp (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// HistoryQuery bounds a transition history lookup.
type HistoryQuery struct {
	// Since excludes records before this time. Zero means unbounded.
	Since time.Time

	// Until excludes records at or after this time. Zero means unbounded.
	Until time.Time

	// Limit caps the number of records returned (implementation may
	// clamp bounds). Zero selects the default limit.
	Limit int
}

// Store persists commanded device state and transition history.
//
// Implementations must serialize writes per device and use UTC timestamps.
type Store interface {
	// LastState returns the last committed state for a device, or nil
	// if the device has never had a committed transition.
	LastState(ctx context.Context, deviceID string) (*DeviceState, error)

	// Record appends a transition attempt to history. When outcome is
	// committed, the device's last state advances to next; a failed
	// outcome leaves the last state untouched.
	//
	// Returns the stored record with its assigned ID.
	Record(ctx context.Context, deviceID string, prev *DeviceState, next DeviceState, origin Origin, outcome Outcome, at time.Time) (TransitionRecord, error)

	// History returns transition records for a device, newest first,
	// bounded by the query.
	History(ctx context.Context, deviceID string, q HistoryQuery) ([]TransitionRecord, error)
}
