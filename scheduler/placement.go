package scheduler

import (
	"fmt"
	"sort"
	"sync"
)

// Placement is the bidirectional variant ↔ accelerator assignment map.
//
// Invariant: a variant appears in exactly one accelerator's set iff the
// forward map points at that accelerator. Every mutation holds mu for its
// full duration, so readers never observe the two maps disagreeing.
type Placement struct {
	mu            sync.RWMutex
	byVariant     map[string]int
	byAccelerator map[int]map[string]struct{}
}

// NewPlacement creates an empty Placement.
func NewPlacement() *Placement {
	return &Placement{
		byVariant:     make(map[string]int),
		byAccelerator: make(map[int]map[string]struct{}),
	}
}

// Get returns the accelerator a variant is placed on.
func (p *Placement) Get(variant string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byVariant[variant]
	return id, ok
}

// putIfAbsent places variant on accelerator unless it is already placed.
// Returns the accelerator the variant ends up on and whether this call placed it.
func (p *Placement) putIfAbsent(variant string, accelerator int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.byVariant[variant]; ok {
		return existing, false
	}
	p.addLocked(variant, accelerator)
	return accelerator, true
}

// remove drops the variant. Returns the accelerator it was on.
func (p *Placement) remove(variant string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byVariant[variant]
	if !ok {
		return 0, false
	}
	p.removeLocked(variant, id)
	return id, true
}

// move reassigns variant from one accelerator to another in a single critical
// section: the new entry is written before the old one is cleared.
func (p *Placement) move(variant string, from, to int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, ok := p.byVariant[variant]
	if !ok {
		return fmt.Errorf("move %q: %w", variant, ErrNotPlaced)
	}
	if current != from {
		return fmt.Errorf("move %q: placed on accelerator %d, not %d", variant, current, from)
	}
	if from == to {
		return nil
	}
	p.addLocked(variant, to)
	delete(p.byAccelerator[from], variant)
	if len(p.byAccelerator[from]) == 0 {
		delete(p.byAccelerator, from)
	}
	return nil
}

func (p *Placement) addLocked(variant string, accelerator int) {
	p.byVariant[variant] = accelerator
	set, ok := p.byAccelerator[accelerator]
	if !ok {
		set = make(map[string]struct{})
		p.byAccelerator[accelerator] = set
	}
	set[variant] = struct{}{}
}

func (p *Placement) removeLocked(variant string, accelerator int) {
	delete(p.byVariant, variant)
	delete(p.byAccelerator[accelerator], variant)
	if len(p.byAccelerator[accelerator]) == 0 {
		delete(p.byAccelerator, accelerator)
	}
}

// Snapshot returns a copy of the variant → accelerator map.
func (p *Placement) Snapshot() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.byVariant))
	for v, id := range p.byVariant {
		out[v] = id
	}
	return out
}

// Counts returns the number of variants placed per accelerator.
// Accelerators with no variants are absent.
func (p *Placement) Counts() map[int]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int]int, len(p.byAccelerator))
	for id, set := range p.byAccelerator {
		out[id] = len(set)
	}
	return out
}

// VariantsOn returns the variants placed on an accelerator, sorted by name.
func (p *Placement) VariantsOn(accelerator int) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.byAccelerator[accelerator]
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of placed variants.
func (p *Placement) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byVariant)
}
