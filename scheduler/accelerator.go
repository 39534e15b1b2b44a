package scheduler

import (
	"context"
	"sync"
)

// AcceleratorStatus is the coarse availability state reported by discovery.
type AcceleratorStatus string

const (
	StatusAvailable AcceleratorStatus = "available"
	StatusInUse     AcceleratorStatus = "in-use"
	StatusReserved  AcceleratorStatus = "reserved"
	StatusOffline   AcceleratorStatus = "offline"
)

// Accelerator is a point-in-time view of one device and its telemetry.
// It is only ever produced by an Inventory; allocation state is tracked
// separately in Placement, keyed by ID.
type Accelerator struct {
	ID             int               `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	MemoryTotalMB  int               `json:"memory_total_mb" yaml:"memory_total_mb"`
	MemoryFreeMB   int               `json:"memory_free_mb" yaml:"memory_free_mb"`
	MemoryUsedMB   int               `json:"memory_used_mb" yaml:"memory_used_mb"`
	UtilizationPct float64           `json:"utilization_pct" yaml:"utilization_pct"`
	TemperatureC   float64           `json:"temperature_c" yaml:"temperature_c"`
	PowerW         float64           `json:"power_w" yaml:"power_w"`
	Status         AcceleratorStatus `json:"status" yaml:"status"`
}

// MemoryUsedRatio returns MemoryUsedMB / MemoryTotalMB, or 0 when the total is unknown.
func (a Accelerator) MemoryUsedRatio() float64 {
	if a.MemoryTotalMB <= 0 {
		return 0
	}
	return float64(a.MemoryUsedMB) / float64(a.MemoryTotalMB)
}

// Inventory discovers accelerators and their live telemetry.
//
// Implementations must return an empty slice (not an error) when no
// accelerators exist, and must not cache: every call observes fresh
// telemetry. Callers needing a consistent view across several decisions
// call Discover once and reuse the slice.
type Inventory interface {
	Discover(ctx context.Context) ([]Accelerator, error)
}

// StaticInventory is an Inventory backed by a fixed, replaceable slice.
// Used for CPU-only deployments, configuration-declared devices and tests.
type StaticInventory struct {
	mu           sync.RWMutex
	accelerators []Accelerator
}

// NewStaticInventory creates a StaticInventory holding a copy of accelerators.
func NewStaticInventory(accelerators []Accelerator) *StaticInventory {
	s := &StaticInventory{}
	s.Set(accelerators)
	return s
}

// Discover implements Inventory. The returned slice is a copy.
func (s *StaticInventory) Discover(_ context.Context) ([]Accelerator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Accelerator, len(s.accelerators))
	copy(out, s.accelerators)
	return out, nil
}

// Set replaces the inventory contents.
func (s *StaticInventory) Set(accelerators []Accelerator) {
	cp := make([]Accelerator, len(accelerators))
	copy(cp, accelerators)
	s.mu.Lock()
	s.accelerators = cp
	s.mu.Unlock()
}

// Update applies fn to the accelerator with the given ID.
// Returns false if no such accelerator exists.
func (s *StaticInventory) Update(id int, fn func(*Accelerator)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accelerators {
		if s.accelerators[i].ID == id {
			fn(&s.accelerators[i])
			return true
		}
	}
	return false
}
