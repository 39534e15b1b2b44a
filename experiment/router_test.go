package experiment

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func TestRoute_UnknownExperiment_Control(t *testing.T) {
	router := NewRouter(NewRegistry(RegistryConfig{}), RouterConfig{Seed: 1})
	d := router.Route("missing", ptr.To("user-1"))
	assert.Equal(t, Control, d.Label)
	assert.Equal(t, 0, d.Version)
}

func TestRoute_NonRunning_AlwaysControl(t *testing.T) {
	tests := []struct {
		name  string
		steps []func(*Registry, string) (Experiment, error)
	}{
		{"draft", nil},
		{"paused", []func(*Registry, string) (Experiment, error){(*Registry).Start, (*Registry).Pause}},
		{"completed", []func(*Registry, string) (Experiment, error){(*Registry).Start, (*Registry).Complete}},
		{"archived", []func(*Registry, string) (Experiment, error){(*Registry).Start, (*Registry).Complete, (*Registry).Archive}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN an experiment that would send all traffic to treatment if running
			reg := NewRegistry(RegistryConfig{})
			_, err := reg.Create(Experiment{Key: "k", ControlVariant: 3, TreatmentVariant: 4, TrafficSplit: 1})
			require.NoError(t, err)
			for _, step := range tc.steps {
				_, err := step(reg, "k")
				require.NoError(t, err)
			}
			router := NewRouter(reg, RouterConfig{Seed: 1})

			// WHEN routing many requests
			// THEN every one goes to control
			for i := 0; i < 100; i++ {
				d := router.Route("k", nil)
				require.Equal(t, Control, d.Label)
				require.Equal(t, 3, d.Version)
			}
		})
	}
}

func TestRoute_ObserverSkipsUnknownAndStoppedExperiments(t *testing.T) {
	// GIVEN a registry with one draft experiment and an observer recording keys
	reg := NewRegistry(RegistryConfig{})
	_, err := reg.Create(Experiment{Key: "draft", TrafficSplit: 0.5})
	require.NoError(t, err)
	var seen []string
	router := NewRouter(reg, RouterConfig{Seed: 1, Observer: func(key string, _ Variant) {
		seen = append(seen, key)
	}})

	// WHEN routing to a missing key and to the draft
	router.Route("no-such-experiment", nil)
	router.Route("draft", nil)

	// THEN nothing is observed until the experiment runs
	assert.Empty(t, seen)
	_, err = reg.Start("draft")
	require.NoError(t, err)
	router.Route("draft", nil)
	assert.Equal(t, []string{"draft"}, seen)
}

func TestRoute_Hash_Sticky(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	runningExperiment(t, reg, "k", SplitHash, 0.5)
	router := NewRouter(reg, RouterConfig{Seed: 7})

	seen := map[Variant]int{}
	for u := 0; u < 200; u++ {
		id := fmt.Sprintf("user-%d", u)
		first := router.Route("k", &id)
		for i := 0; i < 10; i++ {
			require.Equal(t, first.Label, router.Route("k", &id).Label, "identity %s changed variant", id)
		}
		seen[first.Label]++
		wantTreatment := HashBucket(id) < 50
		assert.Equal(t, wantTreatment, first.Label == Treatment)
	}
	assert.Positive(t, seen[Control])
	assert.Positive(t, seen[Treatment])
}

func TestRoute_Hash_Extremes(t *testing.T) {
	for _, split := range []float64{0, 1} {
		reg := NewRegistry(RegistryConfig{})
		runningExperiment(t, reg, "k", SplitHash, split)
		router := NewRouter(reg, RouterConfig{Seed: 7})
		want := Control
		if split == 1 {
			want = Treatment
		}
		for u := 0; u < 100; u++ {
			id := fmt.Sprintf("u%d", u)
			assert.Equal(t, want, router.Route("k", &id).Label)
		}
	}
}

func TestRoute_Hash_NilIdentityFallsBackToRandom(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	runningExperiment(t, reg, "k", SplitHash, 0.5)
	router := NewRouter(reg, RouterConfig{Seed: 3})

	treatment := 0
	for i := 0; i < 1000; i++ {
		d := router.Route("k", nil)
		assert.True(t, strings.HasPrefix(d.Reason, "hash-fallback-random"))
		if d.Label == Treatment {
			treatment++
		}
	}
	assert.InDelta(t, 500, treatment, 100)
}

func TestRoute_RandomFamily_HonorsSplit(t *testing.T) {
	for _, strategy := range []SplitStrategy{SplitRandom, SplitWeighted, SplitCanary} {
		t.Run(string(strategy), func(t *testing.T) {
			reg := NewRegistry(RegistryConfig{})
			e := runningExperiment(t, reg, "k", strategy, 0.3)
			router := NewRouter(reg, RouterConfig{Seed: 42})

			treatment := 0
			const n = 10000
			for i := 0; i < n; i++ {
				d := router.Route("k", ptr.To("ignored"))
				if d.Label == Treatment {
					treatment++
					require.Equal(t, e.TreatmentVariant, d.Version)
				}
			}
			assert.InDelta(t, 0.3, float64(treatment)/n, 0.03)
		})
	}
}

func TestRoute_Random_ZeroAndFullSplit(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	runningExperiment(t, reg, "none", SplitRandom, 0)
	runningExperiment(t, reg, "all", SplitRandom, 1)
	router := NewRouter(reg, RouterConfig{Seed: 9})
	for i := 0; i < 500; i++ {
		assert.Equal(t, Control, router.Route("none", nil).Label)
		assert.Equal(t, Treatment, router.Route("all", nil).Label)
	}
}

func TestRoute_ConcurrentWithObserver(t *testing.T) {
	reg := NewRegistry(RegistryConfig{})
	runningExperiment(t, reg, "k", SplitRandom, 0.5)
	var control, treatment atomic.Int64
	router := NewRouter(reg, RouterConfig{Seed: 11, Observer: func(_ string, label Variant) {
		if label == Treatment {
			treatment.Add(1)
		} else {
			control.Add(1)
		}
	}})

	const workers, perWorker = 32, 250
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				router.Route("k", nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*perWorker), control.Load()+treatment.Load())
	assert.Positive(t, treatment.Load())
}

func TestHashBucket_RangeAndThreshold(t *testing.T) {
	for i := 0; i < 1000; i++ {
		b := HashBucket(fmt.Sprintf("id-%d", i))
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, 100)
	}
	assert.Equal(t, HashBucket("alice"), HashBucket("alice"))
	assert.Equal(t, 29, hashThreshold(0.29))
	assert.Equal(t, 100, hashThreshold(1))
	assert.Equal(t, 0, hashThreshold(0.009))
}
