package scheduler

import (
	"fmt"
	"sort"
)

// Strategy selects one accelerator out of a filtered candidate set.
// It is a closed enum: NewEngine rejects values outside the declared set.
type Strategy int

const (
	// FirstFit picks the first candidate in inventory order.
	FirstFit Strategy = iota
	// BestFit picks the candidate with the most free memory.
	BestFit
	// RoundRobin cycles through candidates using a counter that persists across calls.
	RoundRobin
	// LeastLoaded picks the candidate with the lowest utilization.
	LeastLoaded
)

// DefaultStrategy is used when configuration leaves the strategy unset.
const DefaultStrategy = LeastLoaded

var strategyNames = map[Strategy]string{
	FirstFit:    "first-fit",
	BestFit:     "best-fit",
	RoundRobin:  "round-robin",
	LeastLoaded: "least-loaded",
}

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Valid reports whether s is one of the declared strategies.
func (s Strategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}

// ParseStrategy converts a configuration name into a Strategy.
// Empty string yields DefaultStrategy.
func ParseStrategy(name string) (Strategy, error) {
	if name == "" {
		return DefaultStrategy, nil
	}
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown allocation strategy %q (valid: %v)", name, StrategyNames())
}

// StrategyNames returns all valid strategy names, sorted.
func StrategyNames() []string {
	names := make([]string, 0, len(strategyNames))
	for _, n := range strategyNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid strategy %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// pick applies the strategy to a non-empty candidate slice.
// counter is only consulted by RoundRobin; it must return a fresh value per call.
func (s Strategy) pick(candidates []Accelerator, counter func() uint64) (Accelerator, string) {
	switch s {
	case FirstFit:
		return candidates[0], "first-fit"
	case BestFit:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.MemoryFreeMB > best.MemoryFreeMB {
				best = c
			}
		}
		return best, fmt.Sprintf("best-fit (free=%dMB)", best.MemoryFreeMB)
	case RoundRobin:
		n := counter()
		idx := int(n % uint64(len(candidates)))
		return candidates[idx], fmt.Sprintf("round-robin[%d]", n)
	case LeastLoaded:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.UtilizationPct < best.UtilizationPct {
				best = c
			}
		}
		return best, fmt.Sprintf("least-loaded (util=%.1f%%)", best.UtilizationPct)
	default:
		panic(fmt.Sprintf("unhandled allocation strategy %v", s))
	}
}
