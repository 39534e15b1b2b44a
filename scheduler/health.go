package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Severity ranks a health issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// IssueKind names the condition a health issue reports.
type IssueKind string

const (
	IssueHighTemperature  IssueKind = "high_temperature"
	IssueMemoryExhaustion IssueKind = "memory_exhaustion"
	IssueLowUtilization   IssueKind = "low_utilization"
	IssueNoAccelerators   IssueKind = "no_accelerators"
)

// HealthStatus is the overall verdict of a health check.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthThresholds configures the health monitor.
type HealthThresholds struct {
	TemperatureC      float64 // warn above this temperature
	MemoryUsedRatio   float64 // critical above this used/total ratio
	LowUtilizationPct float64 // info below this utilization when variants are placed
}

// DefaultHealthThresholds returns 85°C, 95% memory and 10% utilization.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		TemperatureC:      85,
		MemoryUsedRatio:   0.95,
		LowUtilizationPct: 10,
	}
}

// HealthIssue is one threshold violation on one accelerator.
type HealthIssue struct {
	AcceleratorID int       `json:"accelerator_id"`
	Kind          IssueKind `json:"kind"`
	Severity      Severity  `json:"severity"`
	Message       string    `json:"message"`
	Value         float64   `json:"value"`
	Threshold     float64   `json:"threshold"`
	Variants      []string  `json:"variants,omitempty"`
}

// HealthReport is the result of CheckHealth.
type HealthReport struct {
	Status           HealthStatus  `json:"status"`
	Issues           []HealthIssue `json:"issues"`
	AcceleratorCount int           `json:"accelerator_count"`
	CheckedAt        time.Time     `json:"checked_at"`
}

// HealthMonitor evaluates inventory telemetry against thresholds and
// attributes issues to the variants placed on each accelerator.
type HealthMonitor struct {
	engine     *Engine
	thresholds HealthThresholds
}

// NewHealthMonitor creates a HealthMonitor reading engine's inventory and placement.
func NewHealthMonitor(engine *Engine, thresholds HealthThresholds) *HealthMonitor {
	return &HealthMonitor{engine: engine, thresholds: thresholds}
}

// CheckHealth polls the inventory once and evaluates every accelerator.
// An empty inventory reports degraded with a single no_accelerators issue.
func (h *HealthMonitor) CheckHealth(ctx context.Context) (HealthReport, error) {
	accelerators, err := h.engine.inventory.Discover(ctx)
	if err != nil {
		return HealthReport{}, fmt.Errorf("discovering accelerators: %w", err)
	}

	report := HealthReport{
		Issues:           []HealthIssue{},
		AcceleratorCount: len(accelerators),
		CheckedAt:        h.engine.now(),
	}

	if len(accelerators) == 0 {
		report.Issues = append(report.Issues, HealthIssue{
			AcceleratorID: -1,
			Kind:          IssueNoAccelerators,
			Severity:      SeverityInfo,
			Message:       "no accelerators discovered; running in CPU-only mode",
		})
	}

	th := h.thresholds
	for _, a := range accelerators {
		variants := h.engine.placement.VariantsOn(a.ID)
		if a.TemperatureC > th.TemperatureC {
			report.Issues = append(report.Issues, HealthIssue{
				AcceleratorID: a.ID,
				Kind:          IssueHighTemperature,
				Severity:      SeverityWarning,
				Message:       fmt.Sprintf("accelerator %d temperature %.1f°C exceeds %.1f°C", a.ID, a.TemperatureC, th.TemperatureC),
				Value:         a.TemperatureC,
				Threshold:     th.TemperatureC,
				Variants:      variants,
			})
		}
		if ratio := a.MemoryUsedRatio(); ratio > th.MemoryUsedRatio {
			report.Issues = append(report.Issues, HealthIssue{
				AcceleratorID: a.ID,
				Kind:          IssueMemoryExhaustion,
				Severity:      SeverityCritical,
				Message:       fmt.Sprintf("accelerator %d memory %.1f%% used exceeds %.1f%%", a.ID, ratio*100, th.MemoryUsedRatio*100),
				Value:         ratio,
				Threshold:     th.MemoryUsedRatio,
				Variants:      variants,
			})
		}
		if len(variants) > 0 && a.UtilizationPct < th.LowUtilizationPct {
			report.Issues = append(report.Issues, HealthIssue{
				AcceleratorID: a.ID,
				Kind:          IssueLowUtilization,
				Severity:      SeverityInfo,
				Message:       fmt.Sprintf("accelerator %d utilization %.1f%% with %d variant(s) placed", a.ID, a.UtilizationPct, len(variants)),
				Value:         a.UtilizationPct,
				Threshold:     th.LowUtilizationPct,
				Variants:      variants,
			})
		}
	}

	report.Status = overallStatus(report.Issues)
	return report, nil
}

func overallStatus(issues []HealthIssue) HealthStatus {
	if len(issues) == 0 {
		return HealthHealthy
	}
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return HealthUnhealthy
		}
	}
	return HealthDegraded
}
