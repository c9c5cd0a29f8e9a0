package policy

import "errors"

// Domain-specific errors for policy evaluation.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrIndeterminate is returned when a metric-dependent policy
	// cannot decide because the metric is missing or NaN. The caller
	// holds the device's last state and does not command.
	ErrIndeterminate = errors.New("policy: metric unavailable, decision indeterminate")

	// ErrUnknownKind is returned when a policy configuration carries a
	// kind this package does not implement.
	ErrUnknownKind = errors.New("policy: unknown policy kind")
)
