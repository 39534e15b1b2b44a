package scheduler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/inference-scheduler/scheduler/trace"
)

// PolicyBundle holds unified scheduler configuration, loadable from a YAML file.
// Nil pointer fields mean "not set in YAML"; the built-in default applies.
// String fields use empty string for "not set".
type PolicyBundle struct {
	Allocation   AllocationConfig  `yaml:"allocation"`
	Health       HealthConfig      `yaml:"health"`
	Rebalance    RebalanceBundle   `yaml:"rebalance"`
	Experiments  ExperimentsConfig `yaml:"experiments"`
	Discovery    DiscoveryConfig   `yaml:"discovery"`
	Controller   ControllerConfig  `yaml:"controller"`
	Trace        TraceBundle       `yaml:"trace"`
	Accelerators []Accelerator     `yaml:"accelerators"` // static inventory; empty means discover
}

// AllocationConfig selects the allocation strategy.
type AllocationConfig struct {
	Strategy string `yaml:"strategy"`
}

// HealthConfig overrides health thresholds.
type HealthConfig struct {
	TemperatureC      *float64 `yaml:"temperature_c"`
	MemoryUsedRatio   *float64 `yaml:"memory_used_ratio"`
	LowUtilizationPct *float64 `yaml:"low_utilization_pct"`
}

// RebalanceBundle overrides rebalance skew ratios.
type RebalanceBundle struct {
	OverloadRatio  *float64 `yaml:"overload_ratio"`
	UnderloadRatio *float64 `yaml:"underload_ratio"`
}

// ExperimentsConfig holds analyzer defaults applied to experiments that do not set their own.
type ExperimentsConfig struct {
	MinSampleSize   *int     `yaml:"min_sample_size"`
	ConfidenceLevel *float64 `yaml:"confidence_level"`
}

// DiscoveryConfig configures accelerator discovery.
type DiscoveryConfig struct {
	Command string         `yaml:"command"`
	Timeout *time.Duration `yaml:"timeout"`
}

// ControllerConfig holds control loop intervals. Zero disables a loop.
type ControllerConfig struct {
	PollInterval      *time.Duration `yaml:"poll_interval"`
	RebalanceInterval *time.Duration `yaml:"rebalance_interval"`
	HealthInterval    *time.Duration `yaml:"health_interval"`
	AnalysisInterval  *time.Duration `yaml:"analysis_interval"`
}

// TraceBundle configures placement decision tracing.
type TraceBundle struct {
	Level string `yaml:"level"`
}

// LoadPolicyBundle reads and parses a YAML policy configuration file.
// Unknown keys are rejected so typos surface as errors.
func LoadPolicyBundle(path string) (*PolicyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy config: %w", err)
	}
	return ParsePolicyBundle(data)
}

// ParsePolicyBundle parses YAML bytes with strict field checking.
// An empty document yields a bundle with every field unset.
func ParsePolicyBundle(data []byte) (*PolicyBundle, error) {
	var bundle PolicyBundle
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&bundle); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing policy config: %w", err)
	}
	return &bundle, nil
}

// Validate checks that all names and parameter ranges in the bundle are valid.
func (b *PolicyBundle) Validate() error {
	if _, err := ParseStrategy(b.Allocation.Strategy); err != nil {
		return err
	}
	if !trace.IsValidTraceLevel(b.Trace.Level) {
		return fmt.Errorf("unknown trace level %q", b.Trace.Level)
	}
	if v := b.Health.MemoryUsedRatio; v != nil && (*v <= 0 || *v > 1) {
		return fmt.Errorf("memory_used_ratio must be in (0,1], got %f", *v)
	}
	if v := b.Health.LowUtilizationPct; v != nil && (*v < 0 || *v > 100) {
		return fmt.Errorf("low_utilization_pct must be in [0,100], got %f", *v)
	}
	if err := b.RebalanceConfig().Validate(); err != nil {
		return err
	}
	if v := b.Experiments.MinSampleSize; v != nil && *v < 2 {
		return fmt.Errorf("min_sample_size must be at least 2, got %d", *v)
	}
	if v := b.Experiments.ConfidenceLevel; v != nil && (*v <= 0 || *v >= 1) {
		return fmt.Errorf("confidence_level must be in (0,1), got %f", *v)
	}
	if v := b.Discovery.Timeout; v != nil && *v <= 0 {
		return fmt.Errorf("discovery timeout must be positive, got %s", *v)
	}
	for name, d := range map[string]*time.Duration{
		"poll_interval":      b.Controller.PollInterval,
		"rebalance_interval": b.Controller.RebalanceInterval,
		"health_interval":    b.Controller.HealthInterval,
		"analysis_interval":  b.Controller.AnalysisInterval,
	} {
		if d != nil && *d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *d)
		}
	}
	seen := make(map[int]bool, len(b.Accelerators))
	for _, a := range b.Accelerators {
		if seen[a.ID] {
			return fmt.Errorf("duplicate accelerator id %d", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// Strategy returns the configured allocation strategy.
func (b *PolicyBundle) Strategy() (Strategy, error) {
	return ParseStrategy(b.Allocation.Strategy)
}

// HealthThresholds merges configured thresholds onto the defaults.
func (b *PolicyBundle) HealthThresholds() HealthThresholds {
	th := DefaultHealthThresholds()
	if b.Health.TemperatureC != nil {
		th.TemperatureC = *b.Health.TemperatureC
	}
	if b.Health.MemoryUsedRatio != nil {
		th.MemoryUsedRatio = *b.Health.MemoryUsedRatio
	}
	if b.Health.LowUtilizationPct != nil {
		th.LowUtilizationPct = *b.Health.LowUtilizationPct
	}
	return th
}

// RebalanceConfig merges configured ratios onto the defaults.
func (b *PolicyBundle) RebalanceConfig() RebalanceConfig {
	cfg := DefaultRebalanceConfig()
	if b.Rebalance.OverloadRatio != nil {
		cfg.OverloadRatio = *b.Rebalance.OverloadRatio
	}
	if b.Rebalance.UnderloadRatio != nil {
		cfg.UnderloadRatio = *b.Rebalance.UnderloadRatio
	}
	return cfg
}

// TraceConfig returns the decision trace configuration.
func (b *PolicyBundle) TraceConfig() trace.TraceConfig {
	level := trace.TraceLevel(b.Trace.Level)
	if level == "" {
		level = trace.TraceLevelNone
	}
	return trace.TraceConfig{Level: level}
}
