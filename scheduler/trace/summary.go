package trace

// TraceSummary aggregates statistics from a DecisionTrace.
type TraceSummary struct {
	TotalAllocations   int         `json:"total_allocations"`
	TotalDeallocations int         `json:"total_deallocations"`
	TotalMigrations    int         `json:"total_migrations"`
	UniqueAccelerators int         `json:"unique_accelerators"`
	Distribution       map[int]int `json:"distribution"` // accelerator ID → allocations landed there (including migrations in)
}

// Summarize computes aggregate statistics from a DecisionTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(dt *DecisionTrace) *TraceSummary {
	summary := &TraceSummary{
		Distribution: make(map[int]int),
	}
	if dt == nil {
		return summary
	}

	allocations := dt.Allocations()
	migrations := dt.Migrations()

	summary.TotalAllocations = len(allocations)
	summary.TotalDeallocations = len(dt.Deallocations())
	summary.TotalMigrations = len(migrations)

	for _, a := range allocations {
		summary.Distribution[a.Accelerator]++
	}
	for _, m := range migrations {
		summary.Distribution[m.ToAccelerator]++
	}

	summary.UniqueAccelerators = len(summary.Distribution)

	return summary
}
