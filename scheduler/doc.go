// Package scheduler places model variants onto accelerators and keeps the
// placement healthy.
//
// # Reading Guide
//
//   - accelerator.go: Accelerator telemetry and the Inventory contract
//   - allocation.go: Engine, the owner of the Placement map
//   - strategy.go: the closed set of selection strategies
//   - rebalance.go: bounded-step migration from overloaded to underloaded accelerators
//   - health.go: threshold checks attributed to placed variants
//   - bundle.go: YAML policy configuration
//
// Implementations of Inventory that talk to real hardware live in
// sub-packages (scheduler/discovery). Placement decisions can be audited
// through scheduler/trace.
//
// # Consistency
//
// Inventory polls and placement are only eventually consistent: an
// accelerator reported free may have been claimed by a concurrent Allocate.
// Capacity failures are surfaced as ErrNoCapacity and retried by the
// caller (see AllocateWithRetry), never internally.
package scheduler
