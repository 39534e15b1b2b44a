// Package workload generates seeded synthetic traffic for experiment dry runs.
package workload

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/inference-scheduler/experiment"
)

// OutcomeProfile describes the Gaussian outcome distribution of one variant.
type OutcomeProfile struct {
	MetricMean      float64 `yaml:"metric_mean" json:"metric_mean"`
	MetricStdDev    float64 `yaml:"metric_stddev" json:"metric_stddev"`
	LatencyMeanMS   float64 `yaml:"latency_mean_ms" json:"latency_mean_ms"`
	LatencyStdDevMS float64 `yaml:"latency_stddev_ms" json:"latency_stddev_ms"`
}

// GeneratorConfig configures a synthetic run.
type GeneratorConfig struct {
	Requests  int
	Users     int // identity population; 0 means anonymous requests
	Control   OutcomeProfile
	Treatment OutcomeProfile
}

// Validate checks counts and standard deviations.
func (c GeneratorConfig) Validate() error {
	if c.Requests <= 0 {
		return fmt.Errorf("requests must be positive, got %d", c.Requests)
	}
	if c.Users < 0 {
		return fmt.Errorf("users must be non-negative, got %d", c.Users)
	}
	for name, p := range map[string]OutcomeProfile{"control": c.Control, "treatment": c.Treatment} {
		if p.MetricStdDev < 0 || p.LatencyStdDevMS < 0 {
			return fmt.Errorf("%s: standard deviations must be non-negative", name)
		}
	}
	return nil
}

// Request is one synthetic inference request.
type Request struct {
	Index    int
	Identity *string
}

// Generator produces requests and per-variant outcomes from isolated streams.
type Generator struct {
	cfg      GeneratorConfig
	identity *rand.Rand
	outcome  *rand.Rand
}

// NewGenerator validates cfg and binds the generator to rng's streams.
func NewGenerator(cfg GeneratorConfig, rng *PartitionedRNG) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("generator requires a PartitionedRNG")
	}
	return &Generator{
		cfg:      cfg,
		identity: rng.ForSubsystem(SubsystemIdentity),
		outcome:  rng.ForSubsystem(SubsystemOutcome),
	}, nil
}

// Requests returns the full request sequence. Identities are drawn uniformly
// from user-0 .. user-(Users-1); with no users every request is anonymous.
func (g *Generator) Requests() []Request {
	out := make([]Request, g.cfg.Requests)
	for i := range out {
		out[i].Index = i
		if g.cfg.Users > 0 {
			id := fmt.Sprintf("user-%d", g.identity.Intn(g.cfg.Users))
			out[i].Identity = &id
		}
	}
	return out
}

// Outcome draws a metric value and a non-negative latency for label.
func (g *Generator) Outcome(label experiment.Variant) (metric, latencyMS float64) {
	p := g.cfg.Control
	if label == experiment.Treatment {
		p = g.cfg.Treatment
	}
	metric = g.outcome.NormFloat64()*p.MetricStdDev + p.MetricMean
	latencyMS = math.Max(0, g.outcome.NormFloat64()*p.LatencyStdDevMS+p.LatencyMeanMS)
	return metric, latencyMS
}

// Tally counts requests routed to each side during Run.
type Tally struct {
	Control   int `json:"control"`
	Treatment int `json:"treatment"`
}

// Run routes every generated request through router and records its outcome
// in ledger under key.
func Run(key string, g *Generator, router *experiment.Router, ledger *experiment.Ledger) (Tally, error) {
	var tally Tally
	for _, req := range g.Requests() {
		d := router.Route(key, req.Identity)
		metric, latency := g.Outcome(d.Label)
		meta := map[string]any{"request": req.Index, "version": d.Version}
		if err := ledger.Record(key, d.Label, &metric, &latency, meta); err != nil {
			return tally, fmt.Errorf("recording request %d: %w", req.Index, err)
		}
		if d.Label == experiment.Treatment {
			tally.Treatment++
		} else {
			tally.Control++
		}
	}
	logrus.Infof("workload: routed %d request(s) for %q (control %d, treatment %d)",
		tally.Control+tally.Treatment, key, tally.Control, tally.Treatment)
	return tally, nil
}
