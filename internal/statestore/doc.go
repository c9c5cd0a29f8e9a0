// Package statestore persists commanded device state and the append-only
// transition history for the habitat.
//
// The store is the single source of truth for what the core believes is
// physically true in hardware: LastState returns the state recorded by
// the most recent committed transition, and nothing else. Failed command
// attempts are visible only in the transition history; they never alter
// what LastState returns.
//
// Writes are serialized per device so overlapping ticks can never
// interleave partial updates for the same device.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
package statestore
