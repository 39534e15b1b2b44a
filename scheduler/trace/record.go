// Package trace provides decision-trace recording for placement auditing.
// This package has no dependencies on scheduler/; it stores pure data types.
package trace

import "time"

// AllocationRecord captures a single placement decision made by the allocation engine.
type AllocationRecord struct {
	Variant     string    `json:"variant"`
	Accelerator int       `json:"accelerator"`
	Strategy    string    `json:"strategy"`
	Reason      string    `json:"reason"`
	Candidates  []int     `json:"candidates"` // accelerator IDs that survived filtering
	Time        time.Time `json:"time"`
}

// DeallocationRecord captures the removal of a variant from its accelerator.
type DeallocationRecord struct {
	Variant     string    `json:"variant"`
	Accelerator int       `json:"accelerator"`
	Time        time.Time `json:"time"`
}

// MigrationRecord captures a variant moved by the rebalancer.
type MigrationRecord struct {
	Variant         string    `json:"variant"`
	FromAccelerator int       `json:"from_accelerator"`
	ToAccelerator   int       `json:"to_accelerator"`
	Time            time.Time `json:"time"`
}
