package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/inference-scheduler/scheduler/trace"
)

var (
	// ErrNoCapacity is returned when no accelerator satisfies an allocation request.
	// Callers decide whether to retry, pick another accelerator, or fall back to CPU.
	ErrNoCapacity = errors.New("no accelerator with sufficient capacity")

	// ErrNotPlaced is returned when an operation names a variant with no placement.
	ErrNotPlaced = errors.New("variant is not placed")

	// ErrInvalidVariant is returned for an empty variant name.
	ErrInvalidVariant = errors.New("variant name must be non-empty")
)

// EngineConfig groups Engine construction parameters.
type EngineConfig struct {
	Strategy Strategy
	Trace    *trace.DecisionTrace // optional decision audit
	Clock    func() time.Time     // defaults to time.Now
}

// Engine assigns model variants to accelerators and owns the Placement map.
type Engine struct {
	inventory Inventory
	strategy  Strategy
	placement *Placement
	rrCounter atomic.Uint64
	trace     *trace.DecisionTrace
	now       func() time.Time
}

// NewEngine creates an allocation engine over inventory.
// Returns an error for a nil inventory or an undeclared strategy.
func NewEngine(inventory Inventory, cfg EngineConfig) (*Engine, error) {
	if inventory == nil {
		return nil, fmt.Errorf("inventory cannot be nil")
	}
	if !cfg.Strategy.Valid() {
		return nil, fmt.Errorf("invalid allocation strategy %v", cfg.Strategy)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		inventory: inventory,
		strategy:  cfg.Strategy,
		placement: NewPlacement(),
		trace:     cfg.Trace,
		now:       now,
	}, nil
}

// Strategy returns the configured selection strategy.
func (e *Engine) Strategy() Strategy { return e.strategy }

// Inventory returns the inventory the engine allocates from.
func (e *Engine) Inventory() Inventory { return e.inventory }

// Allocate places variant on an accelerator and returns its ID.
//
// If variant is already placed the existing accelerator is returned and
// nothing changes. Otherwise the current inventory is narrowed to
// preferAccelerator (when given and present) and then to accelerators with
// at least memoryRequiredMB free (when given); the strategy picks among the
// survivors. An empty candidate set yields ErrNoCapacity; no unsuitable
// accelerator is ever chosen.
func (e *Engine) Allocate(ctx context.Context, variant string, memoryRequiredMB *int, preferAccelerator *int) (int, error) {
	if variant == "" {
		return 0, ErrInvalidVariant
	}
	if id, ok := e.placement.Get(variant); ok {
		return id, nil
	}

	accelerators, err := e.inventory.Discover(ctx)
	if err != nil {
		return 0, fmt.Errorf("discovering accelerators: %w", err)
	}

	candidates := filterCandidates(accelerators, memoryRequiredMB, preferAccelerator)
	if len(candidates) == 0 {
		return 0, fmt.Errorf("allocating %q (required=%s, prefer=%s, inventory=%d): %w",
			variant, fmtOptional(memoryRequiredMB, "MB"), fmtOptional(preferAccelerator, ""), len(accelerators), ErrNoCapacity)
	}

	chosen, reason := e.strategy.pick(candidates, e.nextRoundRobin)

	id, placed := e.placement.putIfAbsent(variant, chosen.ID)
	if !placed {
		// A concurrent Allocate for the same variant won; keep its placement.
		return id, nil
	}

	logrus.Debugf("allocated variant %q to accelerator %d (%s)", variant, id, reason)
	ids := make([]int, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	e.trace.RecordAllocation(trace.AllocationRecord{
		Variant:     variant,
		Accelerator: id,
		Strategy:    e.strategy.String(),
		Reason:      reason,
		Candidates:  ids,
		Time:        e.now(),
	})
	return id, nil
}

// nextRoundRobin returns the current counter value and advances it atomically.
func (e *Engine) nextRoundRobin() uint64 {
	return e.rrCounter.Add(1) - 1
}

func filterCandidates(accelerators []Accelerator, memoryRequiredMB, preferAccelerator *int) []Accelerator {
	pool := accelerators
	if preferAccelerator != nil {
		for _, a := range accelerators {
			if a.ID == *preferAccelerator {
				pool = []Accelerator{a}
				break
			}
		}
	}
	if memoryRequiredMB == nil {
		return pool
	}
	out := make([]Accelerator, 0, len(pool))
	for _, a := range pool {
		if a.MemoryFreeMB >= *memoryRequiredMB {
			out = append(out, a)
		}
	}
	return out
}

func fmtOptional(v *int, unit string) string {
	if v == nil {
		return "any"
	}
	return fmt.Sprintf("%d%s", *v, unit)
}

// Deallocate removes the placement of variant. Returns false if it was not placed.
func (e *Engine) Deallocate(variant string) bool {
	id, ok := e.placement.remove(variant)
	if !ok {
		return false
	}
	logrus.Debugf("deallocated variant %q from accelerator %d", variant, id)
	e.trace.RecordDeallocation(trace.DeallocationRecord{Variant: variant, Accelerator: id, Time: e.now()})
	return true
}

// Get returns the accelerator variant is placed on.
func (e *Engine) Get(variant string) (int, bool) {
	return e.placement.Get(variant)
}

// Placements returns a copy of the variant → accelerator map.
func (e *Engine) Placements() map[string]int {
	return e.placement.Snapshot()
}

// VariantsOn returns the variants placed on an accelerator, sorted by name.
func (e *Engine) VariantsOn(accelerator int) []string {
	return e.placement.VariantsOn(accelerator)
}

// Migrate moves variant from its current accelerator to another. The variant
// stays visible to Get throughout.
func (e *Engine) Migrate(variant string, to int) error {
	from, ok := e.placement.Get(variant)
	if !ok {
		return fmt.Errorf("migrate %q: %w", variant, ErrNotPlaced)
	}
	return e.migrate(variant, from, to)
}

func (e *Engine) migrate(variant string, from, to int) error {
	if err := e.placement.move(variant, from, to); err != nil {
		return err
	}
	logrus.Infof("migrated variant %q from accelerator %d to %d", variant, from, to)
	e.trace.RecordMigration(trace.MigrationRecord{
		Variant:         variant,
		FromAccelerator: from,
		ToAccelerator:   to,
		Time:            e.now(),
	})
	return nil
}

// ClusterUtilization aggregates inventory telemetry with placement counts.
type ClusterUtilization struct {
	AcceleratorCount       int         `json:"accelerator_count"`
	TotalMemoryMB          int         `json:"total_memory_mb"`
	UsedMemoryMB           int         `json:"used_memory_mb"`
	FreeMemoryMB           int         `json:"free_memory_mb"`
	AverageUtilizationPct  float64     `json:"average_utilization_pct"`
	PlacedVariants         int         `json:"placed_variants"`
	VariantsPerAccelerator map[int]int `json:"variants_per_accelerator"`
}

// ClusterUtilization derives aggregate statistics from a fresh inventory poll
// and the current placement. It never mutates state.
func (e *Engine) ClusterUtilization(ctx context.Context) (ClusterUtilization, error) {
	accelerators, err := e.inventory.Discover(ctx)
	if err != nil {
		return ClusterUtilization{}, fmt.Errorf("discovering accelerators: %w", err)
	}
	return e.UtilizationOf(accelerators), nil
}

// UtilizationOf aggregates an inventory snapshot the caller already holds
// with the current placement.
func (e *Engine) UtilizationOf(accelerators []Accelerator) ClusterUtilization {
	counts := e.placement.Counts()

	util := ClusterUtilization{
		AcceleratorCount:       len(accelerators),
		PlacedVariants:         e.placement.Len(),
		VariantsPerAccelerator: make(map[int]int, len(accelerators)),
	}
	totalPct := 0.0
	for _, a := range accelerators {
		util.TotalMemoryMB += a.MemoryTotalMB
		util.UsedMemoryMB += a.MemoryUsedMB
		util.FreeMemoryMB += a.MemoryFreeMB
		totalPct += a.UtilizationPct
		util.VariantsPerAccelerator[a.ID] = counts[a.ID]
	}
	if len(accelerators) > 0 {
		util.AverageUtilizationPct = totalPct / float64(len(accelerators))
	}
	return util
}
