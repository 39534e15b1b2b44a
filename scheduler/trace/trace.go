package trace

import "sync"

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures all allocation, deallocation and migration decisions.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// Sink receives every record as it is appended. It is the hook through which
// an external audit log or persistence layer observes placement decisions.
// Sink is called while no trace lock is held; it must be safe for concurrent use.
type Sink func(record any)

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
	Sink  Sink
}

// DecisionTrace collects placement decision records.
// All methods are safe for concurrent use and safe on a nil receiver.
type DecisionTrace struct {
	config TraceConfig

	mu            sync.Mutex
	allocations   []AllocationRecord
	deallocations []DeallocationRecord
	migrations    []MigrationRecord
}

// NewDecisionTrace creates a DecisionTrace ready for recording.
func NewDecisionTrace(config TraceConfig) *DecisionTrace {
	return &DecisionTrace{
		config:        config,
		allocations:   make([]AllocationRecord, 0),
		deallocations: make([]DeallocationRecord, 0),
		migrations:    make([]MigrationRecord, 0),
	}
}

func (dt *DecisionTrace) enabled() bool {
	return dt != nil && dt.config.Level == TraceLevelDecisions
}

func (dt *DecisionTrace) emit(record any) {
	if dt.config.Sink != nil {
		dt.config.Sink(record)
	}
}

// RecordAllocation appends an allocation decision record.
func (dt *DecisionTrace) RecordAllocation(record AllocationRecord) {
	if !dt.enabled() {
		return
	}
	dt.mu.Lock()
	dt.allocations = append(dt.allocations, record)
	dt.mu.Unlock()
	dt.emit(record)
}

// RecordDeallocation appends a deallocation record.
func (dt *DecisionTrace) RecordDeallocation(record DeallocationRecord) {
	if !dt.enabled() {
		return
	}
	dt.mu.Lock()
	dt.deallocations = append(dt.deallocations, record)
	dt.mu.Unlock()
	dt.emit(record)
}

// RecordMigration appends a migration record.
func (dt *DecisionTrace) RecordMigration(record MigrationRecord) {
	if !dt.enabled() {
		return
	}
	dt.mu.Lock()
	dt.migrations = append(dt.migrations, record)
	dt.mu.Unlock()
	dt.emit(record)
}

// Allocations returns a copy of the recorded allocation decisions in append order.
func (dt *DecisionTrace) Allocations() []AllocationRecord {
	if dt == nil {
		return nil
	}
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return append([]AllocationRecord(nil), dt.allocations...)
}

// Deallocations returns a copy of the recorded deallocations in append order.
func (dt *DecisionTrace) Deallocations() []DeallocationRecord {
	if dt == nil {
		return nil
	}
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return append([]DeallocationRecord(nil), dt.deallocations...)
}

// Migrations returns a copy of the recorded migrations in append order.
func (dt *DecisionTrace) Migrations() []MigrationRecord {
	if dt == nil {
		return nil
	}
	dt.mu.Lock()
	defer dt.mu.Unlock()
	return append([]MigrationRecord(nil), dt.migrations...)
}
