package experiment

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultMinSampleSize   = 100
	DefaultConfidenceLevel = 0.95
)

// InsufficientDataError is returned by Analyze while either variant has fewer
// than the required number of numeric samples. It means "not yet", not failure.
type InsufficientDataError struct {
	Key            string `json:"experiment_key"`
	ControlCount   int    `json:"control_count"`
	TreatmentCount int    `json:"treatment_count"`
	Required       int    `json:"required"`
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("experiment %q: insufficient data (control %d, treatment %d, need %d each)",
		e.Key, e.ControlCount, e.TreatmentCount, e.Required)
}

// IsInsufficientData reports whether err carries an *InsufficientDataError.
func IsInsufficientData(err error) bool {
	var ide *InsufficientDataError
	return errors.As(err, &ide)
}

// ConfidenceInterval bounds the treatment-minus-control mean difference.
type ConfidenceInterval struct {
	Level float64 `json:"level"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// AnalysisResult is a derived view over the samples present at AnalyzedAt.
type AnalysisResult struct {
	ExperimentKey    string             `json:"experiment_key"`
	Control          VariantStats       `json:"control"`
	Treatment        VariantStats       `json:"treatment"`
	MeanDifference   float64            `json:"mean_difference"`
	TStatistic       float64            `json:"t_statistic"`
	PValue           float64            `json:"p_value"`
	DegreesOfFreedom int                `json:"degrees_of_freedom"`
	Alpha            float64            `json:"alpha"`
	Significant      bool               `json:"significant"`
	PooledStdDev     float64            `json:"pooled_std_dev"`
	CohensD          float64            `json:"cohens_d"`
	Effect           EffectSize         `json:"effect_size"`
	Interval         ConfidenceInterval `json:"confidence_interval"`
	Winner           Variant            `json:"winner"`
	Recommendation   string             `json:"recommendation"`
	AnalyzedAt       time.Time          `json:"analyzed_at"`
}

// AnalyzerConfig holds defaults for experiments that do not set their own.
type AnalyzerConfig struct {
	MinSampleSize   int
	ConfidenceLevel float64
	Clock           func() time.Time
}

// DefaultAnalyzerConfig returns the built-in analyzer defaults.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{MinSampleSize: DefaultMinSampleSize, ConfidenceLevel: DefaultConfidenceLevel}
}

// Analyzer compares the two variants of an experiment. It holds no state of
// its own; every call re-reads the ledger.
type Analyzer struct {
	registry *Registry
	ledger   *Ledger
	cfg      AnalyzerConfig
	now      func() time.Time
}

// NewAnalyzer validates cfg and returns an analyzer over registry and ledger.
func NewAnalyzer(registry *Registry, ledger *Ledger, cfg AnalyzerConfig) (*Analyzer, error) {
	if registry == nil || ledger == nil {
		return nil, errors.New("analyzer requires a registry and a ledger")
	}
	if cfg.MinSampleSize < 2 {
		return nil, fmt.Errorf("min sample size must be at least 2, got %d", cfg.MinSampleSize)
	}
	if cfg.ConfidenceLevel <= 0 || cfg.ConfidenceLevel >= 1 {
		return nil, fmt.Errorf("confidence level must be in (0,1), got %f", cfg.ConfidenceLevel)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Analyzer{registry: registry, ledger: ledger, cfg: cfg, now: now}, nil
}

// Analyze runs the significance test for experiment key over the samples
// that carry a metric value.
func (a *Analyzer) Analyze(key string) (AnalysisResult, error) {
	e, err := a.registry.Get(key)
	if err != nil {
		return AnalysisResult{}, err
	}
	minSamples, confidence := a.cfg.MinSampleSize, a.cfg.ConfidenceLevel
	if e.MinSampleSize > 0 {
		minSamples = e.MinSampleSize
	}
	if e.ConfidenceLevel > 0 {
		confidence = e.ConfidenceLevel
	}

	control := metricValues(a.ledger.Query(key, Control))
	treatment := metricValues(a.ledger.Query(key, Treatment))
	result, err := AnalyzeSamples(key, control, treatment, minSamples, confidence, a.now())
	if err != nil {
		return AnalysisResult{}, err
	}
	logrus.Debugf("experiment %q analyzed: winner=%s p=%.4g d=%.3f", key, result.Winner, result.PValue, result.CohensD)
	return result, nil
}

// LatencyComparison summarizes recorded latencies per variant for key.
func (a *Analyzer) LatencyComparison(key string) LatencyComparison {
	return LatencyComparison{
		ExperimentKey: key,
		Control:       NewLatencySummary(latencyValues(a.ledger.Query(key, Control))),
		Treatment:     NewLatencySummary(latencyValues(a.ledger.Query(key, Treatment))),
	}
}

// AnalyzeSamples is the pure decision procedure behind Analyze. Higher metric
// values are better. minSampleSize below 2 is raised to 2.
func AnalyzeSamples(key string, control, treatment []float64, minSampleSize int, confidence float64, at time.Time) (AnalysisResult, error) {
	if minSampleSize < 2 {
		minSampleSize = 2
	}
	if len(control) < minSampleSize || len(treatment) < minSampleSize {
		return AnalysisResult{}, &InsufficientDataError{
			Key:            key,
			ControlCount:   len(control),
			TreatmentCount: len(treatment),
			Required:       minSampleSize,
		}
	}

	cs, ts := describe(control), describe(treatment)
	tt := pooledTTest(cs, ts, confidence)
	alpha := 1 - confidence
	significant := tt.p < alpha

	winner := NoClearWinner
	if significant {
		winner = Treatment
		if tt.diff < 0 {
			winner = Control
		}
	}
	effect := classifyEffect(tt.cohensD)

	return AnalysisResult{
		ExperimentKey:    key,
		Control:          cs,
		Treatment:        ts,
		MeanDifference:   tt.diff,
		TStatistic:       tt.t,
		PValue:           tt.p,
		DegreesOfFreedom: tt.df,
		Alpha:            alpha,
		Significant:      significant,
		PooledStdDev:     tt.pooledStd,
		CohensD:          tt.cohensD,
		Effect:           effect,
		Interval:         ConfidenceInterval{Level: confidence, Lower: tt.ciLower, Upper: tt.ciUpper},
		Winner:           winner,
		Recommendation:   recommend(winner, effect, tt),
		AnalyzedAt:       at,
	}, nil
}

func recommend(winner Variant, effect EffectSize, tt tTestResult) string {
	switch winner {
	case Treatment:
		if effect == EffectMedium || effect == EffectLarge {
			return fmt.Sprintf("deploy treatment: %s improvement (d=%.2f, p=%.4g)", effect, tt.cohensD, tt.p)
		}
		return fmt.Sprintf("deploy treatment with monitoring: significant but %s improvement (d=%.2f, p=%.4g)", effect, tt.cohensD, tt.p)
	case Control:
		return fmt.Sprintf("rollback to control: treatment is worse with %s effect (d=%.2f, p=%.4g)", effect, tt.cohensD, tt.p)
	default:
		if tt.pooledStd == 0 {
			return "continue experiment: samples have zero variance"
		}
		return fmt.Sprintf("continue experiment: no significant difference yet (p=%.4g)", tt.p)
	}
}

func metricValues(samples []MetricSample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.MetricValue != nil {
			out = append(out, *s.MetricValue)
		}
	}
	return out
}

func latencyValues(samples []MetricSample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.LatencyMS != nil {
			out = append(out, *s.LatencyMS)
		}
	}
	return out
}
