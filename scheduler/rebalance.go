package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// RebalanceConfig holds the skew ratios that classify accelerators.
type RebalanceConfig struct {
	OverloadRatio  float64 // overloaded when count > OverloadRatio × average
	UnderloadRatio float64 // underloaded when count < UnderloadRatio × average
}

// DefaultRebalanceConfig returns the 1.5× / 0.5× skew ratios.
func DefaultRebalanceConfig() RebalanceConfig {
	return RebalanceConfig{OverloadRatio: 1.5, UnderloadRatio: 0.5}
}

// Validate checks the ratios are positive and ordered.
func (c RebalanceConfig) Validate() error {
	if c.OverloadRatio <= 0 || c.UnderloadRatio < 0 {
		return fmt.Errorf("rebalance ratios must be positive (overload=%g, underload=%g)", c.OverloadRatio, c.UnderloadRatio)
	}
	if c.UnderloadRatio >= c.OverloadRatio {
		return fmt.Errorf("underload ratio %g must be below overload ratio %g", c.UnderloadRatio, c.OverloadRatio)
	}
	return nil
}

// Migration is one variant moved during a sweep.
type Migration struct {
	Variant         string `json:"variant"`
	FromAccelerator int    `json:"from_accelerator"`
	ToAccelerator   int    `json:"to_accelerator"`
}

// RebalanceReport describes the outcome of one sweep.
type RebalanceReport struct {
	Migrations      []Migration `json:"migrations"`
	AverageVariants float64     `json:"average_variants"`
	Overloaded      []int       `json:"overloaded"`
	Underloaded     []int       `json:"underloaded"`
	Message         string      `json:"message"`
}

// Rebalancer migrates variants from overloaded to underloaded accelerators.
//
// Each sweep moves at most one variant into any given underloaded accelerator,
// so load converges over repeated sweeps rather than in one pass.
type Rebalancer struct {
	engine *Engine
	config RebalanceConfig

	mu sync.Mutex // serializes sweeps
}

// NewRebalancer creates a Rebalancer over engine's placement.
func NewRebalancer(engine *Engine, config RebalanceConfig) (*Rebalancer, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Rebalancer{engine: engine, config: config}, nil
}

// Rebalance runs one sweep. Fewer than two accelerators is not an error: the
// report is empty and Message explains why.
func (r *Rebalancer) Rebalance(ctx context.Context) (RebalanceReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := RebalanceReport{
		Migrations:  []Migration{},
		Overloaded:  []int{},
		Underloaded: []int{},
	}

	accelerators, err := r.engine.inventory.Discover(ctx)
	if err != nil {
		return report, fmt.Errorf("discovering accelerators: %w", err)
	}
	if len(accelerators) < 2 {
		report.Message = fmt.Sprintf("rebalancing requires at least 2 accelerators, found %d", len(accelerators))
		return report, nil
	}

	placed := r.engine.placement.Counts()
	counts := make(map[int]int, len(accelerators))
	total := 0
	for _, a := range accelerators {
		counts[a.ID] = placed[a.ID]
		total += placed[a.ID]
	}
	avg := float64(total) / float64(len(accelerators))
	report.AverageVariants = avg
	if total == 0 {
		report.Message = "no variants placed"
		return report, nil
	}

	high := avg * r.config.OverloadRatio
	low := avg * r.config.UnderloadRatio

	var underloaded []int
	for _, a := range accelerators {
		c := float64(counts[a.ID])
		switch {
		case c > high:
			report.Overloaded = append(report.Overloaded, a.ID)
		case c < low && a.Status != StatusOffline:
			report.Underloaded = append(report.Underloaded, a.ID)
			underloaded = append(underloaded, a.ID)
		}
	}

	received := make(map[int]bool, len(underloaded))
	for _, src := range report.Overloaded {
		for _, dst := range underloaded {
			if float64(counts[src]) <= high {
				break
			}
			if received[dst] || float64(counts[dst]+1) > high {
				continue
			}
			variants := r.engine.placement.VariantsOn(src)
			if len(variants) == 0 {
				break
			}
			variant := variants[0]
			if err := r.engine.migrate(variant, src, dst); err != nil {
				// Placement changed under us (concurrent Deallocate or Migrate); skip this pair.
				logrus.Warnf("rebalance: skipping %q: %v", variant, err)
				continue
			}
			counts[src]--
			counts[dst]++
			received[dst] = true
			report.Migrations = append(report.Migrations, Migration{
				Variant:         variant,
				FromAccelerator: src,
				ToAccelerator:   dst,
			})
		}
	}

	switch {
	case len(report.Migrations) > 0:
		report.Message = fmt.Sprintf("migrated %d variant(s)", len(report.Migrations))
	case len(report.Overloaded) > 0:
		report.Message = "overloaded accelerators found but no underloaded target available"
	default:
		report.Message = "placement balanced"
	}
	logrus.Debugf("rebalance: avg=%.2f overloaded=%v underloaded=%v migrations=%d",
		avg, report.Overloaded, report.Underloaded, len(report.Migrations))
	return report, nil
}
