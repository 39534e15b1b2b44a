package experiment

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrEmptyExperimentKey = errors.New("experiment key must not be empty")

// MetricSample is one recorded outcome. Samples are never mutated after Record.
type MetricSample struct {
	ExperimentKey string         `json:"experiment_key"`
	Variant       Variant        `json:"variant"`
	Timestamp     time.Time      `json:"timestamp"`
	MetricValue   *float64       `json:"metric_value,omitempty"`
	LatencyMS     *float64       `json:"latency_ms,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// SampleObserver is notified after each sample is appended.
type SampleObserver func(s MetricSample)

// LedgerConfig holds optional Ledger collaborators.
type LedgerConfig struct {
	Clock    func() time.Time
	Observer SampleObserver
}

// Ledger is an append-only sample log partitioned by experiment key.
// The outer lock only guards the partition map, so writers to different
// experiments never contend on the same mutex.
type Ledger struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	now        func() time.Time
	observe    SampleObserver
}

type partition struct {
	mu      sync.Mutex
	samples []MetricSample
}

// NewLedger creates an empty ledger.
func NewLedger(cfg LedgerConfig) *Ledger {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		partitions: make(map[string]*partition),
		now:        now,
		observe:    cfg.Observer,
	}
}

// Record appends a sample. The experiment does not have to exist yet.
func (l *Ledger) Record(key string, label Variant, metricValue, latencyMS *float64, metadata map[string]any) error {
	if key == "" {
		return ErrEmptyExperimentKey
	}
	s := MetricSample{
		ExperimentKey: key,
		Variant:       label,
		Timestamp:     l.now(),
		MetricValue:   copyFloat(metricValue),
		LatencyMS:     copyFloat(latencyMS),
	}
	if len(metadata) > 0 {
		s.Metadata = make(map[string]any, len(metadata))
		for k, v := range metadata {
			s.Metadata[k] = v
		}
	}

	p := l.partition(key)
	p.mu.Lock()
	p.samples = append(p.samples, s)
	p.mu.Unlock()

	if l.observe != nil {
		l.observe(s)
	}
	return nil
}

func (l *Ledger) partition(key string) *partition {
	l.mu.RLock()
	p, ok := l.partitions[key]
	l.mu.RUnlock()
	if ok {
		return p
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok = l.partitions[key]; !ok {
		p = &partition{}
		l.partitions[key] = p
	}
	return p
}

func (l *Ledger) lookup(key string) (*partition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.partitions[key]
	return p, ok
}

// Query returns the samples recorded for key and label, in record order.
func (l *Ledger) Query(key string, label Variant) []MetricSample {
	p, ok := l.lookup(key)
	if !ok {
		return []MetricSample{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]MetricSample, 0, len(p.samples))
	for _, s := range p.samples {
		if s.Variant == label {
			out = append(out, s)
		}
	}
	return out
}

// Counts returns the number of samples per side for key.
func (l *Ledger) Counts(key string) (control, treatment int) {
	p, ok := l.lookup(key)
	if !ok {
		return 0, 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.samples {
		switch s.Variant {
		case Control:
			control++
		case Treatment:
			treatment++
		}
	}
	return control, treatment
}

// Keys returns all experiment keys with at least one partition, sorted.
func (l *Ledger) Keys() []string {
	l.mu.RLock()
	keys := make([]string, 0, len(l.partitions))
	for k := range l.partitions {
		keys = append(keys, k)
	}
	l.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Purge drops every sample for key and returns how many were removed.
// It is the cleanup hook for archival policies owned outside the ledger.
func (l *Ledger) Purge(key string) int {
	l.mu.Lock()
	p, ok := l.partitions[key]
	delete(l.partitions, key)
	l.mu.Unlock()
	if !ok {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.samples)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
