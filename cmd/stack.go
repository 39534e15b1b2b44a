package cmd

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/inference-scheduler/controller"
	"github.com/inference-sim/inference-scheduler/experiment"
	"github.com/inference-sim/inference-scheduler/scheduler"
	"github.com/inference-sim/inference-scheduler/scheduler/discovery"
	"github.com/inference-sim/inference-scheduler/scheduler/trace"
	"github.com/inference-sim/inference-scheduler/telemetry"
)

// loadBundle reads and validates the policy bundle at path. An empty path
// yields the built-in defaults.
func loadBundle(path string) (*scheduler.PolicyBundle, error) {
	bundle := &scheduler.PolicyBundle{}
	if path != "" {
		var err error
		if bundle, err = scheduler.LoadPolicyBundle(path); err != nil {
			return nil, err
		}
		logrus.Infof("Loaded policy config from %s", path)
	}
	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy config: %w", err)
	}
	return bundle, nil
}

// newInventory returns a static inventory when the bundle lists
// accelerators, otherwise nvidia-smi discovery.
func newInventory(b *scheduler.PolicyBundle) scheduler.Inventory {
	if len(b.Accelerators) > 0 {
		logrus.Infof("Using %d statically configured accelerator(s)", len(b.Accelerators))
		return scheduler.NewStaticInventory(b.Accelerators)
	}
	var timeout time.Duration
	if b.Discovery.Timeout != nil {
		timeout = *b.Discovery.Timeout
	}
	return discovery.NewNvidiaSMI(b.Discovery.Command, timeout)
}

func analyzerConfig(b *scheduler.PolicyBundle) experiment.AnalyzerConfig {
	cfg := experiment.DefaultAnalyzerConfig()
	if b.Experiments.MinSampleSize != nil {
		cfg.MinSampleSize = *b.Experiments.MinSampleSize
	}
	if b.Experiments.ConfidenceLevel != nil {
		cfg.ConfidenceLevel = *b.Experiments.ConfidenceLevel
	}
	return cfg
}

func controllerConfig(b *scheduler.PolicyBundle) controller.Config {
	cfg := controller.DefaultConfig()
	for _, o := range []struct {
		src *time.Duration
		dst *time.Duration
	}{
		{b.Controller.PollInterval, &cfg.PollInterval},
		{b.Controller.RebalanceInterval, &cfg.RebalanceInterval},
		{b.Controller.HealthInterval, &cfg.HealthInterval},
		{b.Controller.AnalysisInterval, &cfg.AnalysisInterval},
	} {
		if o.src != nil {
			*o.dst = *o.src
		}
	}
	return cfg
}

// stack is every long-lived component of a running scheduler.
type stack struct {
	inventory  scheduler.Inventory
	trace      *trace.DecisionTrace
	engine     *scheduler.Engine
	rebalancer *scheduler.Rebalancer
	health     *scheduler.HealthMonitor
	registry   *experiment.Registry
	ledger     *experiment.Ledger
	router     *experiment.Router
	analyzer   *experiment.Analyzer
	metrics    *telemetry.Collectors
	controller *controller.Controller
}

type stackOptions struct {
	inventory  scheduler.Inventory   // overrides newInventory when set
	registerer prometheus.Registerer // nil disables metrics
	routerSeed int64
	controller *controller.Config // overrides the bundle's loop intervals when set
}

// buildStack wires the scheduler, experiment, telemetry, and controller
// components described by b.
func buildStack(b *scheduler.PolicyBundle, opts stackOptions) (*stack, error) {
	strategy, err := b.Strategy()
	if err != nil {
		return nil, err
	}

	s := &stack{inventory: opts.inventory}
	if s.inventory == nil {
		s.inventory = newInventory(b)
	}
	if opts.registerer != nil {
		if s.metrics, err = telemetry.NewCollectors(opts.registerer); err != nil {
			return nil, err
		}
	}

	traceCfg := b.TraceConfig()
	traceCfg.Sink = func(record any) { logrus.Debugf("decision: %+v", record) }
	s.trace = trace.NewDecisionTrace(traceCfg)

	if s.engine, err = scheduler.NewEngine(s.inventory, scheduler.EngineConfig{Strategy: strategy, Trace: s.trace}); err != nil {
		return nil, err
	}
	if s.rebalancer, err = scheduler.NewRebalancer(s.engine, b.RebalanceConfig()); err != nil {
		return nil, err
	}
	s.health = scheduler.NewHealthMonitor(s.engine, b.HealthThresholds())

	s.registry = experiment.NewRegistry(experiment.RegistryConfig{
		OnTransition: func(t experiment.Transition) {
			logrus.Debugf("experiment transition: %s %s -> %s", t.Key, t.From, t.To)
		},
	})
	s.ledger = experiment.NewLedger(experiment.LedgerConfig{Observer: s.metrics.SampleObserver(s.registry)})
	s.router = experiment.NewRouter(s.registry, experiment.RouterConfig{Seed: opts.routerSeed, Observer: s.metrics.RouteObserver()})
	if s.analyzer, err = experiment.NewAnalyzer(s.registry, s.ledger, analyzerConfig(b)); err != nil {
		return nil, err
	}

	ctrlCfg := controllerConfig(b)
	if opts.controller != nil {
		ctrlCfg = *opts.controller
	}
	s.controller, err = controller.New(controller.Deps{
		Engine:     s.engine,
		Rebalancer: s.rebalancer,
		Health:     s.health,
		Registry:   s.registry,
		Analyzer:   s.analyzer,
		Metrics:    s.metrics,
	}, ctrlCfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
