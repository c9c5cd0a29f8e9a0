// Package policy contains the pure decision functions of the control
// loop.
//
// A Policy maps (snapshot, last committed state, clock) to the desired
// device state. Three kinds exist:
//
//   - threshold: on when a metric crosses a boundary, off only after it
//     recrosses by at least the hysteresis margin, so a metric hovering
//     near the boundary never chatters the device.
//   - time window: on within a time-of-day window that may wrap
//     midnight.
//   - fixed duration: a one-shot run started by a trigger condition and
//     self-terminating after a set duration, regardless of the trigger.
//
// Policies are pure: no internal timers, no I/O, no mutation. Missing
// or NaN metrics surface as ErrIndeterminate and the caller holds the
// last state instead of commanding anything.
package policy
