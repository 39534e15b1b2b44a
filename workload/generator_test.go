package workload

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/inference-scheduler/experiment"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

func testConfig() GeneratorConfig {
	return GeneratorConfig{
		Requests:  2000,
		Users:     50,
		Control:   OutcomeProfile{MetricMean: 0.70, MetricStdDev: 0.05, LatencyMeanMS: 120, LatencyStdDevMS: 15},
		Treatment: OutcomeProfile{MetricMean: 0.82, MetricStdDev: 0.05, LatencyMeanMS: 100, LatencyStdDevMS: 15},
	}
}

func TestPartitionedRNG_Isolation(t *testing.T) {
	// GIVEN two RNGs with the same seed
	a, b := NewPartitionedRNG(42), NewPartitionedRNG(42)

	// WHEN one draws heavily from an unrelated subsystem first
	for i := 0; i < 1000; i++ {
		a.ForSubsystem(SubsystemRouter).Float64()
	}

	// THEN the outcome streams are identical
	for i := 0; i < 100; i++ {
		require.Equal(t, b.ForSubsystem(SubsystemOutcome).Int63(), a.ForSubsystem(SubsystemOutcome).Int63())
	}
	assert.Same(t, a.ForSubsystem(SubsystemOutcome), a.ForSubsystem(SubsystemOutcome))
	assert.Equal(t, int64(42), a.SeedFor(SubsystemIdentity))
	assert.NotEqual(t, a.SeedFor(SubsystemOutcome), a.SeedFor(SubsystemRouter))
}

func TestGeneratorConfig_Validate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Requests = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Users = -1
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Treatment.MetricStdDev = -1
	assert.Error(t, bad.Validate())

	_, err := NewGenerator(cfg, nil)
	assert.Error(t, err)
}

func TestGenerator_Deterministic(t *testing.T) {
	g1, err := NewGenerator(testConfig(), NewPartitionedRNG(7))
	require.NoError(t, err)
	g2, err := NewGenerator(testConfig(), NewPartitionedRNG(7))
	require.NoError(t, err)

	if diff := cmp.Diff(g1.Requests(), g2.Requests()); diff != "" {
		t.Errorf("request sequences differ (-first +second):\n%s", diff)
	}
	m1, l1 := g1.Outcome(experiment.Treatment)
	m2, l2 := g2.Outcome(experiment.Treatment)
	assert.Equal(t, m1, m2)
	assert.Equal(t, l1, l2)
}

func TestGenerator_AnonymousRequests(t *testing.T) {
	cfg := testConfig()
	cfg.Users = 0
	g, err := NewGenerator(cfg, NewPartitionedRNG(1))
	require.NoError(t, err)
	for _, r := range g.Requests() {
		require.Nil(t, r.Identity)
	}
}

func TestRun_EndToEnd_TreatmentWins(t *testing.T) {
	// GIVEN a running sticky-hash experiment and a treatment with a better metric
	reg := experiment.NewRegistry(experiment.RegistryConfig{})
	_, err := reg.Create(experiment.Experiment{Key: "exp1", ControlVariant: 1, TreatmentVariant: 2,
		TrafficSplit: 0.5, Strategy: experiment.SplitHash, MinSampleSize: 30})
	require.NoError(t, err)
	_, err = reg.Start("exp1")
	require.NoError(t, err)

	rng := NewPartitionedRNG(2024)
	router := experiment.NewRouter(reg, experiment.RouterConfig{Seed: rng.SeedFor(SubsystemRouter)})
	ledger := experiment.NewLedger(experiment.LedgerConfig{})
	gen, err := NewGenerator(testConfig(), rng)
	require.NoError(t, err)

	// WHEN the workload runs
	tally, err := Run("exp1", gen, router, ledger)
	require.NoError(t, err)

	// THEN every request was recorded and the analyzer picks treatment
	assert.Equal(t, 2000, tally.Control+tally.Treatment)
	c, tr := ledger.Counts("exp1")
	assert.Equal(t, tally.Control, c)
	assert.Equal(t, tally.Treatment, tr)

	analyzer, err := experiment.NewAnalyzer(reg, ledger, experiment.DefaultAnalyzerConfig())
	require.NoError(t, err)
	result, err := analyzer.Analyze("exp1")
	require.NoError(t, err)
	assert.Equal(t, experiment.Treatment, result.Winner)
	assert.Contains(t, result.Recommendation, "deploy")

	latency := analyzer.LatencyComparison("exp1")
	assert.Less(t, latency.Treatment.Mean, latency.Control.Mean)
}
