// Package scheduler contains the control loop orchestrator.
//
// A single goroutine multiplexes every configured device onto one loop:
// each device has its own polling interval, and the loop always services
// the device with the lowest next-due time. One tick runs four phases in
// strict order:
//
//	Reading  — pull one sensor snapshot (or note the fault)
//	Deciding — evaluate every due device's policy against that snapshot
//	Acting   — issue actuator commands only where the desired setting
//	           differs from the last committed state
//	Recording — append a transition record; committed outcomes advance
//	            the stored state, failed outcomes do not
//
// All Deciding completes before any Acting starts, so no device acts on
// a partially-observed snapshot. Actuator failures are retried with
// exponential backoff, capped so a retrying device never blocks past
// its own next tick. A device whose committed state can no longer be
// trusted (a store failure after a delivered command) is quarantined:
// the loop stops commanding it until restart.
//
// Shutdown is honoured only between ticks; an in-flight command always
// completes so the device's real state stays known.
package scheduler
