package experiment

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrExperimentExists   = errors.New("experiment already exists")
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrInvalidTransition  = errors.New("invalid experiment state transition")
	ErrInvalidExperiment  = errors.New("invalid experiment")
)

// TransitionError reports an operation rejected by the lifecycle state machine.
type TransitionError struct {
	Key       string
	Operation string
	From      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s experiment %q in status %s", e.Operation, e.Key, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Transition describes an accepted lifecycle change. It is handed to
// RegistryConfig.OnTransition after the registry lock is released.
type Transition struct {
	Key  string    `json:"key"`
	From Status    `json:"from"`
	To   Status    `json:"to"`
	At   time.Time `json:"at"`
}

// RegistryConfig holds optional Registry collaborators.
type RegistryConfig struct {
	Clock        func() time.Time
	OnTransition func(Transition)
}

// Registry owns experiment records and their lifecycle:
//
//	draft -> running <-> paused -> completed -> archived
//
// Rejected transitions leave the record untouched.
type Registry struct {
	mu           sync.RWMutex
	experiments  map[string]*Experiment
	now          func() time.Time
	onTransition func(Transition)
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Registry{
		experiments:  make(map[string]*Experiment),
		now:          now,
		onTransition: cfg.OnTransition,
	}
}

// Create registers e in draft status. An empty key is replaced by a random UUID.
func (r *Registry) Create(e Experiment) (Experiment, error) {
	strategy, err := ParseSplitStrategy(string(e.Strategy))
	if err != nil {
		return Experiment{}, fmt.Errorf("%w: %v", ErrInvalidExperiment, err)
	}
	if err := validateExperiment(e); err != nil {
		return Experiment{}, err
	}
	if e.Key == "" {
		e.Key = uuid.NewString()
	}
	e.Strategy = strategy
	e.Status = StatusDraft
	e.StartTime, e.EndTime, e.CompletedAt = nil, nil, nil

	r.mu.Lock()
	if _, exists := r.experiments[e.Key]; exists {
		r.mu.Unlock()
		return Experiment{}, fmt.Errorf("create %q: %w", e.Key, ErrExperimentExists)
	}
	e.CreatedAt = r.now()
	stored := e.clone()
	r.experiments[e.Key] = &stored
	r.mu.Unlock()

	logrus.Infof("experiment %q created for model %q (split %.2f, %s)", e.Key, e.Model, e.TrafficSplit, e.Strategy)
	return e, nil
}

func validateExperiment(e Experiment) error {
	if math.IsNaN(e.TrafficSplit) || e.TrafficSplit < 0 || e.TrafficSplit > 1 {
		return fmt.Errorf("%w: traffic split must be in [0,1], got %f", ErrInvalidExperiment, e.TrafficSplit)
	}
	if e.Duration < 0 {
		return fmt.Errorf("%w: duration must be non-negative, got %s", ErrInvalidExperiment, e.Duration)
	}
	if e.MinSampleSize != 0 && e.MinSampleSize < 2 {
		return fmt.Errorf("%w: min sample size must be at least 2, got %d", ErrInvalidExperiment, e.MinSampleSize)
	}
	if e.ConfidenceLevel != 0 && (e.ConfidenceLevel <= 0 || e.ConfidenceLevel >= 1) {
		return fmt.Errorf("%w: confidence level must be in (0,1), got %f", ErrInvalidExperiment, e.ConfidenceLevel)
	}
	return nil
}

// Get returns a copy of the experiment stored under key.
func (r *Registry) Get(key string) (Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.experiments[key]
	if !ok {
		return Experiment{}, fmt.Errorf("%q: %w", key, ErrExperimentNotFound)
	}
	return e.clone(), nil
}

// List returns copies of all experiments sorted by key.
func (r *Registry) List() []Experiment {
	r.mu.RLock()
	out := make([]Experiment, 0, len(r.experiments))
	for _, e := range r.experiments {
		out = append(out, e.clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Start moves a draft or paused experiment to running. StartTime and EndTime
// are stamped on the first start only; resuming keeps the original window.
func (r *Registry) Start(key string) (Experiment, error) {
	return r.transition(key, "start", StatusRunning, func(e *Experiment, now time.Time) {
		if e.StartTime != nil {
			return
		}
		start := now
		e.StartTime = &start
		if e.Duration > 0 {
			end := start.Add(e.Duration)
			e.EndTime = &end
		}
	}, StatusDraft, StatusPaused)
}

// Pause suspends a running experiment; routing falls back to control.
func (r *Registry) Pause(key string) (Experiment, error) {
	return r.transition(key, "pause", StatusPaused, nil, StatusRunning)
}

// Complete ends a running or paused experiment. Completed experiments only
// route to control and accept no further changes except archival.
func (r *Registry) Complete(key string) (Experiment, error) {
	return r.transition(key, "complete", StatusCompleted, func(e *Experiment, now time.Time) {
		done := now
		e.CompletedAt = &done
	}, StatusRunning, StatusPaused)
}

// Archive retires a completed experiment.
func (r *Registry) Archive(key string) (Experiment, error) {
	return r.transition(key, "archive", StatusArchived, nil, StatusCompleted)
}

func (r *Registry) transition(key, op string, to Status, apply func(*Experiment, time.Time), from ...Status) (Experiment, error) {
	r.mu.Lock()
	e, ok := r.experiments[key]
	if !ok {
		r.mu.Unlock()
		return Experiment{}, fmt.Errorf("%s %q: %w", op, key, ErrExperimentNotFound)
	}
	prev := e.Status
	allowed := false
	for _, s := range from {
		if s == prev {
			allowed = true
			break
		}
	}
	if !allowed {
		r.mu.Unlock()
		return Experiment{}, &TransitionError{Key: key, Operation: op, From: prev}
	}
	now := r.now()
	if apply != nil {
		apply(e, now)
	}
	e.Status = to
	out := e.clone()
	r.mu.Unlock()

	logrus.Infof("experiment %q: %s -> %s", key, prev, to)
	if r.onTransition != nil {
		r.onTransition(Transition{Key: key, From: prev, To: to, At: now})
	}
	return out, nil
}

// UpdateSplit changes the treatment traffic fraction of a draft or paused experiment.
func (r *Registry) UpdateSplit(key string, split float64) (Experiment, error) {
	if math.IsNaN(split) || split < 0 || split > 1 {
		return Experiment{}, fmt.Errorf("%w: traffic split must be in [0,1], got %f", ErrInvalidExperiment, split)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.experiments[key]
	if !ok {
		return Experiment{}, fmt.Errorf("update split %q: %w", key, ErrExperimentNotFound)
	}
	if e.Status != StatusDraft && e.Status != StatusPaused {
		return Experiment{}, &TransitionError{Key: key, Operation: "update split of", From: e.Status}
	}
	e.TrafficSplit = split
	return e.clone(), nil
}

// Expired returns the keys of running experiments whose EndTime is at or before now, sorted.
func (r *Registry) Expired(now time.Time) []string {
	r.mu.RLock()
	var keys []string
	for key, e := range r.experiments {
		if e.Status == StatusRunning && e.EndTime != nil && !now.Before(*e.EndTime) {
			keys = append(keys, key)
		}
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
