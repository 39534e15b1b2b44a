// Package controller runs the periodic control loops that sit on top of the
// scheduler and experiment cores: inventory polling, rebalance sweeps,
// health checks, and experiment expiry/analysis.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/inference-scheduler/experiment"
	"github.com/inference-sim/inference-scheduler/scheduler"
	"github.com/inference-sim/inference-scheduler/telemetry"
)

// Config holds loop intervals. A zero interval disables that loop.
type Config struct {
	PollInterval      time.Duration
	RebalanceInterval time.Duration
	HealthInterval    time.Duration
	AnalysisInterval  time.Duration
	// CompleteOnSignificance completes a running experiment as soon as an
	// analysis declares a winner.
	CompleteOnSignificance bool
}

// DefaultConfig returns the built-in loop intervals.
func DefaultConfig() Config {
	return Config{
		PollInterval:      15 * time.Second,
		RebalanceInterval: time.Minute,
		HealthInterval:    30 * time.Second,
		AnalysisInterval:  time.Minute,
	}
}

// Deps are the collaborators a Controller drives. Metrics may be nil.
type Deps struct {
	Engine     *scheduler.Engine
	Rebalancer *scheduler.Rebalancer
	Health     *scheduler.HealthMonitor
	Registry   *experiment.Registry
	Analyzer   *experiment.Analyzer
	Metrics    *telemetry.Collectors
	Clock      func() time.Time
}

// AnalysisSnapshot is the latest analysis outcome for one experiment.
// Exactly one of Result, Pending, or Error is set.
type AnalysisSnapshot struct {
	Result  *experiment.AnalysisResult        `json:"result,omitempty"`
	Pending *experiment.InsufficientDataError `json:"pending,omitempty"`
	Error   string                            `json:"error,omitempty"`
}

// Controller owns the loops and the latest observation of each.
type Controller struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	mu            sync.RWMutex
	lastInventory []scheduler.Accelerator
	lastHealth    *scheduler.HealthReport
	lastRebalance *scheduler.RebalanceReport
	analyses      map[string]AnalysisSnapshot
}

// New validates deps and cfg.
func New(deps Deps, cfg Config) (*Controller, error) {
	if deps.Engine == nil || deps.Rebalancer == nil || deps.Health == nil {
		return nil, errors.New("controller requires an engine, rebalancer, and health monitor")
	}
	if deps.Registry == nil || deps.Analyzer == nil {
		return nil, errors.New("controller requires an experiment registry and analyzer")
	}
	for name, d := range map[string]time.Duration{
		"poll": cfg.PollInterval, "rebalance": cfg.RebalanceInterval,
		"health": cfg.HealthInterval, "analysis": cfg.AnalysisInterval,
	} {
		if d < 0 {
			return nil, fmt.Errorf("%s interval must be non-negative, got %s", name, d)
		}
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Controller{deps: deps, cfg: cfg, now: now, analyses: make(map[string]AnalysisSnapshot)}, nil
}

// Run starts every enabled loop and blocks until ctx is cancelled. Each loop
// runs one step immediately, then once per interval. Step errors are logged
// and never stop a loop.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	loops := []struct {
		name     string
		interval time.Duration
		step     func(context.Context) error
	}{
		{"inventory poll", c.cfg.PollInterval, c.Poll},
		{"rebalance", c.cfg.RebalanceInterval, func(ctx context.Context) error { _, err := c.Rebalance(ctx); return err }},
		{"health check", c.cfg.HealthInterval, func(ctx context.Context) error { _, err := c.CheckHealth(ctx); return err }},
		{"experiment analysis", c.cfg.AnalysisInterval, c.AnalyzeExperiments},
	}
	enabled := 0
	for _, l := range loops {
		if l.interval <= 0 {
			logrus.Infof("controller: %s loop disabled", l.name)
			continue
		}
		enabled++
		l := l
		g.Go(func() error { return runLoop(ctx, l.name, l.interval, l.step) })
	}
	if enabled == 0 {
		<-ctx.Done()
		return nil
	}
	return g.Wait()
}

func runLoop(ctx context.Context, name string, interval time.Duration, step func(context.Context) error) error {
	logrus.Infof("controller: %s loop every %s", name, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := step(ctx); err != nil && ctx.Err() == nil {
			logrus.Warnf("controller: %s failed: %v", name, err)
		}
		select {
		case <-ctx.Done():
			logrus.Debugf("controller: %s loop stopped", name)
			return nil
		case <-ticker.C:
		}
	}
}

// Poll refreshes the inventory snapshot and cluster utilization metrics.
func (c *Controller) Poll(ctx context.Context) error {
	accelerators, err := c.deps.Engine.Inventory().Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering accelerators: %w", err)
	}
	c.deps.Metrics.ObserveInventory(accelerators)
	c.deps.Metrics.ObserveUtilization(c.deps.Engine.UtilizationOf(accelerators))

	c.mu.Lock()
	c.lastInventory = accelerators
	c.mu.Unlock()
	return nil
}

// Rebalance runs one rebalance sweep and records its report.
func (c *Controller) Rebalance(ctx context.Context) (scheduler.RebalanceReport, error) {
	report, err := c.deps.Rebalancer.Rebalance(ctx)
	if err != nil {
		return report, err
	}
	c.deps.Metrics.ObserveRebalance(report)
	c.mu.Lock()
	c.lastRebalance = &report
	c.mu.Unlock()
	return report, nil
}

// CheckHealth runs one health check and records its report.
func (c *Controller) CheckHealth(ctx context.Context) (scheduler.HealthReport, error) {
	report, err := c.deps.Health.CheckHealth(ctx)
	if err != nil {
		return report, err
	}
	if report.Status != scheduler.HealthHealthy {
		logrus.Warnf("controller: cluster %s with %d issue(s)", report.Status, len(report.Issues))
	}
	c.deps.Metrics.ObserveHealth(report)
	c.mu.Lock()
	c.lastHealth = &report
	c.mu.Unlock()
	return report, nil
}

// AnalyzeExperiments completes running experiments whose window has elapsed,
// then analyzes every running experiment plus those just completed.
func (c *Controller) AnalyzeExperiments(ctx context.Context) error {
	var errs []error
	expired := make(map[string]bool)
	for _, key := range c.deps.Registry.Expired(c.now()) {
		if _, err := c.deps.Registry.Complete(key); err != nil {
			errs = append(errs, err)
			continue
		}
		logrus.Infof("controller: experiment %q reached its end time and was completed", key)
		expired[key] = true
	}

	for _, e := range c.deps.Registry.List() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.Status != experiment.StatusRunning && !expired[e.Key] {
			continue
		}
		result, err := c.deps.Analyzer.Analyze(e.Key)
		c.deps.Metrics.ObserveAnalysis(e.Key, result, err)
		c.storeAnalysis(e.Key, result, err)
		if err != nil && !experiment.IsInsufficientData(err) {
			errs = append(errs, err)
			continue
		}
		if err == nil && c.cfg.CompleteOnSignificance && result.Significant && e.Status == experiment.StatusRunning {
			if _, err := c.deps.Registry.Complete(e.Key); err != nil {
				errs = append(errs, err)
				continue
			}
			logrus.Infof("controller: experiment %q completed with winner %s: %s", e.Key, result.Winner, result.Recommendation)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) storeAnalysis(key string, result experiment.AnalysisResult, err error) {
	var snap AnalysisSnapshot
	var pending *experiment.InsufficientDataError
	switch {
	case err == nil:
		snap.Result = &result
	case errors.As(err, &pending):
		snap.Pending = pending
	default:
		snap.Error = err.Error()
	}
	c.mu.Lock()
	c.analyses[key] = snap
	c.mu.Unlock()
}

// LastInventory returns the accelerators seen by the latest successful poll.
func (c *Controller) LastInventory() []scheduler.Accelerator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]scheduler.Accelerator, len(c.lastInventory))
	copy(out, c.lastInventory)
	return out
}

// LastHealth returns the latest health report, if any.
func (c *Controller) LastHealth() (scheduler.HealthReport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastHealth == nil {
		return scheduler.HealthReport{}, false
	}
	return *c.lastHealth, true
}

// LastRebalance returns the latest rebalance report, if any.
func (c *Controller) LastRebalance() (scheduler.RebalanceReport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastRebalance == nil {
		return scheduler.RebalanceReport{}, false
	}
	return *c.lastRebalance, true
}

// LastAnalysis returns the latest analysis snapshot for key, if any.
func (c *Controller) LastAnalysis(key string) (AnalysisSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.analyses[key]
	return snap, ok
}
