package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/inference-sim/inference-scheduler/controller"
	"github.com/inference-sim/inference-scheduler/experiment"
	"github.com/inference-sim/inference-scheduler/scheduler"
	"github.com/inference-sim/inference-scheduler/scheduler/trace"
	"github.com/inference-sim/inference-scheduler/workload"
)

type simulateOptions struct {
	model          string
	requests       int
	users          int
	seed           int64
	split          float64
	strategy       string
	minSamples     int
	confidence     float64
	memoryMB       int
	accelerators   int
	acceleratorMem int
	control        workload.OutcomeProfile
	treatment      workload.OutcomeProfile
}

var simOpts simulateOptions

// simulateCmd dry-runs one experiment end to end against synthetic traffic.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Place two model versions, route synthetic traffic between them, and analyze the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulate(cmd.Context(), configPath, simOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simOpts.model, "model", "demo-model", "Model name; versions are placed as <model>-v1 and <model>-v2")
	f.IntVar(&simOpts.requests, "requests", 1000, "Number of synthetic requests")
	f.IntVar(&simOpts.users, "users", 200, "Size of the requester identity population (0 for anonymous traffic)")
	f.Int64Var(&simOpts.seed, "seed", 42, "Seed for identity, outcome, and routing streams")
	f.Float64Var(&simOpts.split, "split", 0.5, "Fraction of traffic routed to treatment")
	f.StringVar(&simOpts.strategy, "strategy", string(experiment.DefaultSplitStrategy), "Split strategy (random, hash, weighted, canary)")
	f.IntVar(&simOpts.minSamples, "min-samples", 0, "Minimum samples per side before analysis (0 uses the configured default)")
	f.Float64Var(&simOpts.confidence, "confidence", 0, "Confidence level for analysis (0 uses the configured default)")
	f.IntVar(&simOpts.memoryMB, "memory-mb", 0, "Memory each version needs, in MB (0 for no requirement)")
	f.IntVar(&simOpts.accelerators, "accelerators", 2, "Simulated accelerators when the config lists none")
	f.IntVar(&simOpts.acceleratorMem, "accelerator-memory-mb", 81920, "Memory per simulated accelerator, in MB")
	outcomeFlags(f, "control", &simOpts.control, workload.OutcomeProfile{MetricMean: 0.70, MetricStdDev: 0.10, LatencyMeanMS: 120, LatencyStdDevMS: 20})
	outcomeFlags(f, "treatment", &simOpts.treatment, workload.OutcomeProfile{MetricMean: 0.75, MetricStdDev: 0.10, LatencyMeanMS: 110, LatencyStdDevMS: 20})
}

// outcomeFlags registers the --<side>-* flags describing one variant's outcome distribution.
func outcomeFlags(f *pflag.FlagSet, side string, p *workload.OutcomeProfile, def workload.OutcomeProfile) {
	f.Float64Var(&p.MetricMean, side+"-mean", def.MetricMean, fmt.Sprintf("Mean %s success metric", side))
	f.Float64Var(&p.MetricStdDev, side+"-stddev", def.MetricStdDev, fmt.Sprintf("Standard deviation of the %s success metric", side))
	f.Float64Var(&p.LatencyMeanMS, side+"-latency-ms", def.LatencyMeanMS, fmt.Sprintf("Mean %s latency in ms", side))
	f.Float64Var(&p.LatencyStdDevMS, side+"-latency-stddev-ms", def.LatencyStdDevMS, fmt.Sprintf("Standard deviation of %s latency in ms", side))
}

// simulationReport is the JSON document printed by simulate.
type simulationReport struct {
	Experiment experiment.Experiment        `json:"experiment"`
	Placements map[string]int               `json:"placements"`
	Tally      workload.Tally               `json:"tally"`
	Analysis   controller.AnalysisSnapshot  `json:"analysis"`
	Latency    experiment.LatencyComparison `json:"latency"`
	Trace      *trace.TraceSummary          `json:"trace"`
}

// simulatedInventory returns n idle accelerators with memMB each.
func simulatedInventory(n, memMB int) *scheduler.StaticInventory {
	accelerators := make([]scheduler.Accelerator, n)
	for i := range accelerators {
		accelerators[i] = scheduler.Accelerator{
			ID:            i,
			Name:          fmt.Sprintf("sim-accelerator-%d", i),
			MemoryTotalMB: memMB,
			MemoryFreeMB:  memMB,
			TemperatureC:  40,
			Status:        scheduler.StatusAvailable,
		}
	}
	return scheduler.NewStaticInventory(accelerators)
}

func runSimulate(ctx context.Context, path string, opts simulateOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	strategy, err := experiment.ParseSplitStrategy(opts.strategy)
	if err != nil {
		return err
	}
	bundle, err := loadBundle(path)
	if err != nil {
		return err
	}

	if bundle.Trace.Level == "" {
		bundle.Trace.Level = string(trace.TraceLevelDecisions)
	}

	rng := workload.NewPartitionedRNG(opts.seed)
	so := stackOptions{routerSeed: rng.SeedFor(workload.SubsystemRouter)}
	if len(bundle.Accelerators) == 0 {
		if opts.accelerators <= 0 {
			return fmt.Errorf("accelerators must be positive, got %d", opts.accelerators)
		}
		so.inventory = simulatedInventory(opts.accelerators, opts.acceleratorMem)
	}
	s, err := buildStack(bundle, so)
	if err != nil {
		return err
	}

	var memory *int
	if opts.memoryMB > 0 {
		memory = &opts.memoryMB
	}
	for _, version := range []int{1, 2} {
		variant := fmt.Sprintf("%s-v%d", opts.model, version)
		id, err := scheduler.AllocateWithRetry(ctx, s.engine, variant, memory, nil, scheduler.DefaultRetryConfig())
		if err != nil {
			return fmt.Errorf("placing %s: %w", variant, err)
		}
		logrus.Infof("Placed %s on accelerator %d", variant, id)
	}

	e, err := s.registry.Create(experiment.Experiment{
		Model:            opts.model,
		Description:      "simulated dry run",
		ControlVariant:   1,
		TreatmentVariant: 2,
		TrafficSplit:     opts.split,
		Strategy:         strategy,
		SuccessMetric:    "synthetic",
		MinSampleSize:    opts.minSamples,
		ConfidenceLevel:  opts.confidence,
	})
	if err != nil {
		return err
	}
	if _, err := s.registry.Start(e.Key); err != nil {
		return err
	}

	gen, err := workload.NewGenerator(workload.GeneratorConfig{
		Requests:  opts.requests,
		Users:     opts.users,
		Control:   opts.control,
		Treatment: opts.treatment,
	}, rng)
	if err != nil {
		return err
	}
	tally, err := workload.Run(e.Key, gen, s.router, s.ledger)
	if err != nil {
		return err
	}

	if err := s.controller.AnalyzeExperiments(ctx); err != nil {
		return err
	}
	snap, _ := s.controller.LastAnalysis(e.Key)
	if e, err = s.registry.Complete(e.Key); err != nil {
		return err
	}

	return printJSON(w, simulationReport{
		Experiment: e,
		Placements: s.engine.Placements(),
		Tally:      tally,
		Analysis:   snap,
		Latency:    s.analyzer.LatencyComparison(e.Key),
		Trace:      trace.Summarize(s.trace),
	})
}
