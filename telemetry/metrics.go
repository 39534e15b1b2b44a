// Package telemetry exports scheduler and experiment state as Prometheus metrics.
package telemetry

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/inference-sim/inference-scheduler/experiment"
	"github.com/inference-sim/inference-scheduler/scheduler"
)

const namespace = "inference_scheduler"

const (
	LabelAccelerator = "accelerator"
	LabelKind        = "kind"
	LabelSeverity    = "severity"
	LabelStatus      = "status"
	LabelExperiment  = "experiment"
	LabelVariant     = "variant"
	LabelOutcome     = "outcome"
)

// Analysis outcomes besides a winner label.
const (
	OutcomeInsufficientData = "insufficient_data"
	OutcomeError            = "error"
)

// VariantOther labels samples whose variant is neither control nor treatment.
const VariantOther = "other"

var healthStatuses = []scheduler.HealthStatus{scheduler.HealthHealthy, scheduler.HealthDegraded, scheduler.HealthUnhealthy}

// Collectors holds every metric the scheduler exports. A nil *Collectors
// accepts all Observe calls and does nothing.
type Collectors struct {
	acceleratorUtilization *prometheus.GaugeVec
	acceleratorTemperature *prometheus.GaugeVec
	acceleratorMemoryRatio *prometheus.GaugeVec
	acceleratorVariants    *prometheus.GaugeVec
	clusterMemoryTotal     prometheus.Gauge
	clusterMemoryUsed      prometheus.Gauge
	placedVariants         prometheus.Gauge
	healthStatus           *prometheus.GaugeVec
	healthIssues           *prometheus.GaugeVec
	migrationsTotal        prometheus.Counter
	routedTotal            *prometheus.CounterVec
	samplesTotal           *prometheus.CounterVec
	analysesTotal          *prometheus.CounterVec
}

// NewCollectors creates the metric set and registers it with registry.
func NewCollectors(registry prometheus.Registerer) (*Collectors, error) {
	accLabels := []string{LabelAccelerator}
	expLabels := []string{LabelExperiment, LabelVariant}
	c := &Collectors{
		acceleratorUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "accelerator_utilization_percent",
			Help: "Accelerator utilization reported by the latest inventory poll",
		}, accLabels),
		acceleratorTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "accelerator_temperature_celsius",
			Help: "Accelerator temperature reported by the latest inventory poll",
		}, accLabels),
		acceleratorMemoryRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "accelerator_memory_used_ratio",
			Help: "Fraction of accelerator memory in use",
		}, accLabels),
		acceleratorVariants: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "accelerator_placed_variants",
			Help: "Number of model variants placed on each accelerator",
		}, accLabels),
		clusterMemoryTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cluster_memory_total_megabytes",
			Help: "Total accelerator memory across the cluster",
		}),
		clusterMemoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cluster_memory_used_megabytes",
			Help: "Used accelerator memory across the cluster",
		}),
		placedVariants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "placed_variants",
			Help: "Number of model variants currently placed",
		}),
		healthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "health_status",
			Help: "1 for the current overall health status, 0 otherwise",
		}, []string{LabelStatus}),
		healthIssues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "health_issues",
			Help: "Number of open health issues by kind and severity",
		}, []string{LabelKind, LabelSeverity}),
		migrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rebalance_migrations_total",
			Help: "Total number of variant migrations performed by the rebalancer",
		}),
		routedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "experiment_routed_requests_total",
			Help: "Requests routed per experiment and variant",
		}, expLabels),
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "experiment_samples_total",
			Help: "Metric samples recorded per experiment and variant",
		}, expLabels),
		analysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "experiment_analyses_total",
			Help: "Analyses run per experiment by outcome",
		}, []string{LabelExperiment, LabelOutcome}),
	}

	for name, collector := range map[string]prometheus.Collector{
		"accelerator_utilization": c.acceleratorUtilization,
		"accelerator_temperature": c.acceleratorTemperature,
		"accelerator_memory":      c.acceleratorMemoryRatio,
		"accelerator_variants":    c.acceleratorVariants,
		"cluster_memory_total":    c.clusterMemoryTotal,
		"cluster_memory_used":     c.clusterMemoryUsed,
		"placed_variants":         c.placedVariants,
		"health_status":           c.healthStatus,
		"health_issues":           c.healthIssues,
		"migrations":              c.migrationsTotal,
		"routed":                  c.routedTotal,
		"samples":                 c.samplesTotal,
		"analyses":                c.analysesTotal,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register %s metric: %w", name, err)
		}
	}
	return c, nil
}

// ObserveInventory sets per-accelerator telemetry gauges, dropping series of
// accelerators that disappeared since the last poll.
func (c *Collectors) ObserveInventory(accelerators []scheduler.Accelerator) {
	if c == nil {
		return
	}
	c.acceleratorUtilization.Reset()
	c.acceleratorTemperature.Reset()
	c.acceleratorMemoryRatio.Reset()
	for _, a := range accelerators {
		id := strconv.Itoa(a.ID)
		c.acceleratorUtilization.WithLabelValues(id).Set(a.UtilizationPct)
		c.acceleratorTemperature.WithLabelValues(id).Set(a.TemperatureC)
		c.acceleratorMemoryRatio.WithLabelValues(id).Set(a.MemoryUsedRatio())
	}
}

// ObserveUtilization records cluster-wide placement and memory totals.
func (c *Collectors) ObserveUtilization(u scheduler.ClusterUtilization) {
	if c == nil {
		return
	}
	c.clusterMemoryTotal.Set(float64(u.TotalMemoryMB))
	c.clusterMemoryUsed.Set(float64(u.UsedMemoryMB))
	c.placedVariants.Set(float64(u.PlacedVariants))
	c.acceleratorVariants.Reset()
	for id, n := range u.VariantsPerAccelerator {
		c.acceleratorVariants.WithLabelValues(strconv.Itoa(id)).Set(float64(n))
	}
}

// ObserveHealth replaces the open-issue gauges with the contents of r.
func (c *Collectors) ObserveHealth(r scheduler.HealthReport) {
	if c == nil {
		return
	}
	for _, s := range healthStatuses {
		v := 0.0
		if s == r.Status {
			v = 1
		}
		c.healthStatus.WithLabelValues(string(s)).Set(v)
	}
	c.healthIssues.Reset()
	for _, issue := range r.Issues {
		c.healthIssues.WithLabelValues(string(issue.Kind), string(issue.Severity)).Inc()
	}
}

// ObserveRebalance counts the migrations in r.
func (c *Collectors) ObserveRebalance(r scheduler.RebalanceReport) {
	if c == nil {
		return
	}
	c.migrationsTotal.Add(float64(len(r.Migrations)))
}

// ObserveAnalysis counts one Analyze outcome for key. Lookups of
// unregistered experiments are not counted.
func (c *Collectors) ObserveAnalysis(key string, result experiment.AnalysisResult, err error) {
	if c == nil || errors.Is(err, experiment.ErrExperimentNotFound) {
		return
	}
	outcome := string(result.Winner)
	switch {
	case experiment.IsInsufficientData(err):
		outcome = OutcomeInsufficientData
	case err != nil:
		outcome = OutcomeError
	}
	c.analysesTotal.WithLabelValues(key, outcome).Inc()
}

// RouteObserver returns a hook for experiment.RouterConfig.
func (c *Collectors) RouteObserver() experiment.RouteObserver {
	if c == nil {
		return nil
	}
	return func(key string, label experiment.Variant) {
		c.routedTotal.WithLabelValues(key, string(label)).Inc()
	}
}

// SampleObserver returns a hook for experiment.LedgerConfig. When registry is
// set, samples for keys it does not hold are not counted.
func (c *Collectors) SampleObserver(registry *experiment.Registry) experiment.SampleObserver {
	if c == nil {
		return nil
	}
	return func(s experiment.MetricSample) {
		if registry != nil {
			if _, err := registry.Get(s.ExperimentKey); err != nil {
				return
			}
		}
		c.samplesTotal.WithLabelValues(s.ExperimentKey, variantLabel(s.Variant)).Inc()
	}
}

func variantLabel(v experiment.Variant) string {
	switch v {
	case experiment.Control, experiment.Treatment:
		return string(v)
	default:
		return VariantOther
	}
}
