package experiment

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Set DEBUG_TESTS=1 to see full logs: DEBUG_TESTS=1 go test ./experiment/... -v
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock safe for concurrent reads.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// runningExperiment registers and starts an experiment with the given strategy and split.
func runningExperiment(t *testing.T, reg *Registry, key string, strategy SplitStrategy, split float64) Experiment {
	t.Helper()
	_, err := reg.Create(Experiment{
		Key: key, Model: "sentiment", ControlVariant: 1, TreatmentVariant: 2,
		TrafficSplit: split, Strategy: strategy, SuccessMetric: "accuracy",
	})
	require.NoError(t, err)
	e, err := reg.Start(key)
	require.NoError(t, err)
	return e
}

// alternating returns n values alternating between center-spread and center+spread.
func alternating(n int, center, spread float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = center - spread
		} else {
			out[i] = center + spread
		}
	}
	return out
}

func recordValues(t *testing.T, l *Ledger, key string, label Variant, values []float64) {
	t.Helper()
	for _, v := range values {
		v := v
		require.NoError(t, l.Record(key, label, &v, nil, nil))
	}
}
