package experiment

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Create(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(RegistryConfig{Clock: clock.Now})

	e, err := reg.Create(Experiment{Key: "exp1", Model: "m", TrafficSplit: 0.2, Status: StatusRunning})
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, e.Status, "status is forced to draft")
	assert.Equal(t, DefaultSplitStrategy, e.Strategy)
	assert.Equal(t, epoch, e.CreatedAt)
	assert.Nil(t, e.StartTime)

	got, err := reg.Get("exp1")
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestRegistry_Create_Duplicate(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	_, err := reg.Create(Experiment{Key: "exp1", TrafficSplit: 0.5})
	require.NoError(t, err)

	_, err = reg.Create(Experiment{Key: "exp1", TrafficSplit: 0.9})
	assert.ErrorIs(t, err, ErrExperimentExists)

	e, _ := reg.Get("exp1")
	assert.Equal(t, 0.5, e.TrafficSplit, "existing record not overwritten")
}

func TestRegistry_Create_GeneratesKey(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	e, err := reg.Create(Experiment{TrafficSplit: 0.5})
	require.NoError(t, err)
	_, parseErr := uuid.Parse(e.Key)
	assert.NoError(t, parseErr)
}

func TestRegistry_Create_Invalid(t *testing.T) {
	tests := []struct {
		name string
		e    Experiment
	}{
		{"split above one", Experiment{Key: "a", TrafficSplit: 1.01}},
		{"negative split", Experiment{Key: "a", TrafficSplit: -0.1}},
		{"NaN split", Experiment{Key: "a", TrafficSplit: math.NaN()}},
		{"unknown strategy", Experiment{Key: "a", Strategy: "bandit"}},
		{"negative duration", Experiment{Key: "a", Duration: -time.Hour}},
		{"min sample of one", Experiment{Key: "a", MinSampleSize: 1}},
		{"confidence above one", Experiment{Key: "a", ConfidenceLevel: 1.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry(RegistryConfig{})
			_, err := reg.Create(tc.e)
			assert.ErrorIs(t, err, ErrInvalidExperiment)
			assert.Empty(t, reg.List())
		})
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	var transitions []Transition
	reg := NewRegistry(RegistryConfig{
		Clock:        clock.Now,
		OnTransition: func(tr Transition) { transitions = append(transitions, tr) },
	})
	_, err := reg.Create(Experiment{Key: "exp1", TrafficSplit: 0.5, Duration: time.Hour})
	require.NoError(t, err)

	// GIVEN a started experiment
	clock.Advance(time.Minute)
	e, err := reg.Start("exp1")
	require.NoError(t, err)
	start := epoch.Add(time.Minute)
	require.NotNil(t, e.StartTime)
	assert.Equal(t, start, *e.StartTime)
	require.NotNil(t, e.EndTime)
	assert.Equal(t, start.Add(time.Hour), *e.EndTime)

	// WHEN it is paused and resumed later
	clock.Advance(time.Minute)
	_, err = reg.Pause("exp1")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	e, err = reg.Start("exp1")
	require.NoError(t, err)

	// THEN the original window is kept
	assert.Equal(t, start, *e.StartTime)
	assert.Equal(t, start.Add(time.Hour), *e.EndTime)

	clock.Advance(time.Minute)
	e, err = reg.Complete("exp1")
	require.NoError(t, err)
	require.NotNil(t, e.CompletedAt)
	assert.Equal(t, epoch.Add(4*time.Minute), *e.CompletedAt)

	e, err = reg.Archive("exp1")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, e.Status)

	var path []Status
	for _, tr := range transitions {
		path = append(path, tr.To)
	}
	assert.Equal(t, []Status{StatusRunning, StatusPaused, StatusRunning, StatusCompleted, StatusArchived}, path)
}

func TestRegistry_InvalidTransitions_LeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		setup []func(*Registry, string) (Experiment, error)
		op    func(*Registry, string) (Experiment, error)
	}{
		{"pause draft", nil, (*Registry).Pause},
		{"complete draft", nil, (*Registry).Complete},
		{"archive running", []func(*Registry, string) (Experiment, error){(*Registry).Start}, (*Registry).Archive},
		{"start completed", []func(*Registry, string) (Experiment, error){(*Registry).Start, (*Registry).Complete}, (*Registry).Start},
		{"pause paused", []func(*Registry, string) (Experiment, error){(*Registry).Start, (*Registry).Pause}, (*Registry).Pause},
		{"complete archived", []func(*Registry, string) (Experiment, error){(*Registry).Start, (*Registry).Complete, (*Registry).Archive}, (*Registry).Complete},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry(RegistryConfig{})
			_, err := reg.Create(Experiment{Key: "k", TrafficSplit: 0.5})
			require.NoError(t, err)
			for _, step := range tc.setup {
				_, err := step(reg, "k")
				require.NoError(t, err)
			}
			before, _ := reg.Get("k")

			_, err = tc.op(reg, "k")

			var te *TransitionError
			require.True(t, errors.As(err, &te), "expected *TransitionError, got %v", err)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, before.Status, te.From)
			after, _ := reg.Get("k")
			assert.Equal(t, before, after)
		})
	}
}

func TestRegistry_UnknownKey(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, ErrExperimentNotFound)
	_, err = reg.Start("nope")
	assert.ErrorIs(t, err, ErrExperimentNotFound)
	_, err = reg.UpdateSplit("nope", 0.5)
	assert.ErrorIs(t, err, ErrExperimentNotFound)
}

func TestRegistry_UpdateSplit(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	_, err := reg.Create(Experiment{Key: "k", TrafficSplit: 0.1})
	require.NoError(t, err)

	e, err := reg.UpdateSplit("k", 0.4)
	require.NoError(t, err)
	assert.Equal(t, 0.4, e.TrafficSplit)

	_, err = reg.UpdateSplit("k", 2)
	assert.ErrorIs(t, err, ErrInvalidExperiment)
	_, err = reg.UpdateSplit("k", math.NaN())
	assert.ErrorIs(t, err, ErrInvalidExperiment)
	got, err := reg.Get("k")
	require.NoError(t, err)
	assert.Equal(t, 0.4, got.TrafficSplit)

	_, err = reg.Start("k")
	require.NoError(t, err)
	_, err = reg.UpdateSplit("k", 0.9)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRegistry_Expired(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(RegistryConfig{Clock: clock.Now})
	for _, spec := range []struct {
		key string
		d   time.Duration
	}{{"short", time.Minute}, {"long", time.Hour}, {"open", 0}} {
		_, err := reg.Create(Experiment{Key: spec.key, TrafficSplit: 0.5, Duration: spec.d})
		require.NoError(t, err)
		_, err = reg.Start(spec.key)
		require.NoError(t, err)
	}

	assert.Empty(t, reg.Expired(epoch.Add(30*time.Second)))
	assert.Equal(t, []string{"short"}, reg.Expired(epoch.Add(time.Minute)))
	assert.Equal(t, []string{"long", "short"}, reg.Expired(epoch.Add(2*time.Hour)))

	_, err := reg.Complete("short")
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, reg.Expired(epoch.Add(2*time.Hour)))
}

func TestRegistry_List_SortedCopies(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	for _, k := range []string{"b", "c", "a"} {
		_, err := reg.Create(Experiment{Key: k})
		require.NoError(t, err)
	}
	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Key)
	assert.Equal(t, "c", list[2].Key)

	list[0].TrafficSplit = 0.99
	e, _ := reg.Get("a")
	assert.Equal(t, 0.0, e.TrafficSplit)
}
