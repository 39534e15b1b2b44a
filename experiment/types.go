// Package experiment runs controlled A/B comparisons between two deployed
// versions of a model: the Registry owns experiment lifecycle, the Router
// assigns requests to a variant, the Ledger accumulates outcome samples, and
// the Analyzer turns those samples into a significance verdict.
package experiment

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// SplitStrategy selects how the Router assigns traffic.
type SplitStrategy string

const (
	SplitRandom   SplitStrategy = "random"
	SplitHash     SplitStrategy = "hash"
	SplitWeighted SplitStrategy = "weighted"
	SplitCanary   SplitStrategy = "canary"
)

// DefaultSplitStrategy applies when an experiment is created without one.
const DefaultSplitStrategy = SplitRandom

var validSplitStrategies = map[SplitStrategy]bool{
	SplitRandom:   true,
	SplitHash:     true,
	SplitWeighted: true,
	SplitCanary:   true,
}

// Valid reports whether s is a declared split strategy.
func (s SplitStrategy) Valid() bool { return validSplitStrategies[s] }

// ParseSplitStrategy converts a configuration name into a SplitStrategy.
// Empty string yields DefaultSplitStrategy.
func ParseSplitStrategy(name string) (SplitStrategy, error) {
	if name == "" {
		return DefaultSplitStrategy, nil
	}
	s := SplitStrategy(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown split strategy %q", name)
	}
	return s, nil
}

// Variant labels one side of an experiment.
type Variant string

const (
	Control   Variant = "control"
	Treatment Variant = "treatment"
	// NoClearWinner is the Analyzer's verdict when the difference is not significant.
	NoClearWinner Variant = "no_clear_winner"
)

// Experiment is one A/B comparison. Timestamps are nil until the
// corresponding transition happens. Duration is encoded in JSON as integer
// nanoseconds.
type Experiment struct {
	Key              string        `json:"key"`
	Model            string        `json:"model"`
	Description      string        `json:"description,omitempty"`
	ControlVariant   int           `json:"control_variant"`
	TreatmentVariant int           `json:"treatment_variant"`
	TrafficSplit     float64       `json:"traffic_split"` // fraction of traffic sent to treatment
	Strategy         SplitStrategy `json:"strategy"`
	SuccessMetric    string        `json:"success_metric"`
	Status           Status        `json:"status"`
	Duration         time.Duration `json:"duration"` // zero means open-ended
	MinSampleSize    int           `json:"min_sample_size,omitempty"`
	ConfidenceLevel  float64       `json:"confidence_level,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	StartTime        *time.Time    `json:"start_time,omitempty"`
	EndTime          *time.Time    `json:"end_time,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// VersionFor returns the model version served for label.
func (e Experiment) VersionFor(label Variant) int {
	if label == Treatment {
		return e.TreatmentVariant
	}
	return e.ControlVariant
}

func (e Experiment) clone() Experiment {
	c := e
	c.StartTime = cloneTime(e.StartTime)
	c.EndTime = cloneTime(e.EndTime)
	c.CompletedAt = cloneTime(e.CompletedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
