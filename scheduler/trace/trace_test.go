package trace

import (
	"sync"
	"testing"
	"time"
)

func TestDecisionTrace_RecordAllocation_AppendsRecord(t *testing.T) {
	// GIVEN a trace configured for decisions
	dt := NewDecisionTrace(TraceConfig{Level: TraceLevelDecisions})

	// WHEN an allocation record is recorded
	dt.RecordAllocation(AllocationRecord{
		Variant:     "resnet-v2",
		Accelerator: 1,
		Strategy:    "best-fit",
		Reason:      "best-fit (free=2048MB)",
		Time:        time.Unix(1000, 0),
	})

	// THEN the trace contains one allocation record with correct data
	allocs := dt.Allocations()
	if len(allocs) != 1 {
		t.Fatalf("expected 1 allocation, got %d", len(allocs))
	}
	if allocs[0].Variant != "resnet-v2" {
		t.Errorf("expected variant resnet-v2, got %s", allocs[0].Variant)
	}
	if allocs[0].Accelerator != 1 {
		t.Errorf("expected accelerator 1, got %d", allocs[0].Accelerator)
	}
}

func TestDecisionTrace_LevelNone_RecordsNothing(t *testing.T) {
	dt := NewDecisionTrace(TraceConfig{Level: TraceLevelNone})

	dt.RecordAllocation(AllocationRecord{Variant: "a"})
	dt.RecordMigration(MigrationRecord{Variant: "a", FromAccelerator: 0, ToAccelerator: 1})

	if n := len(dt.Allocations()) + len(dt.Migrations()); n != 0 {
		t.Errorf("expected no records at level none, got %d", n)
	}
}

func TestDecisionTrace_NilReceiver_IsNoop(t *testing.T) {
	var dt *DecisionTrace

	// Must not panic.
	dt.RecordAllocation(AllocationRecord{Variant: "a"})
	dt.RecordDeallocation(DeallocationRecord{Variant: "a"})
	dt.RecordMigration(MigrationRecord{Variant: "a"})

	if dt.Allocations() != nil || dt.Deallocations() != nil || dt.Migrations() != nil {
		t.Error("expected nil slices from nil trace")
	}
}

func TestDecisionTrace_Sink_ReceivesEveryRecord(t *testing.T) {
	var mu sync.Mutex
	var got []any
	dt := NewDecisionTrace(TraceConfig{
		Level: TraceLevelDecisions,
		Sink: func(record any) {
			mu.Lock()
			got = append(got, record)
			mu.Unlock()
		},
	})

	dt.RecordAllocation(AllocationRecord{Variant: "a", Accelerator: 0})
	dt.RecordMigration(MigrationRecord{Variant: "a", FromAccelerator: 0, ToAccelerator: 1})
	dt.RecordDeallocation(DeallocationRecord{Variant: "a", Accelerator: 1})

	if len(got) != 3 {
		t.Fatalf("expected 3 sink calls, got %d", len(got))
	}
	if _, ok := got[1].(MigrationRecord); !ok {
		t.Errorf("expected second record to be a MigrationRecord, got %T", got[1])
	}
}

func TestDecisionTrace_ConcurrentRecording(t *testing.T) {
	dt := NewDecisionTrace(TraceConfig{Level: TraceLevelDecisions})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dt.RecordAllocation(AllocationRecord{Accelerator: i % 4})
		}(i)
	}
	wg.Wait()

	if n := len(dt.Allocations()); n != 50 {
		t.Errorf("expected 50 allocations, got %d", n)
	}
}

func TestIsValidTraceLevel(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"", true},
		{"none", true},
		{"decisions", true},
		{"verbose", false},
	}
	for _, tc := range tests {
		if got := IsValidTraceLevel(tc.level); got != tc.valid {
			t.Errorf("IsValidTraceLevel(%q) = %v, want %v", tc.level, got, tc.valid)
		}
	}
}
