package experiment

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// EffectSize is the qualitative bucket of |Cohen's d|.
type EffectSize string

const (
	EffectNegligible EffectSize = "negligible"
	EffectSmall      EffectSize = "small"
	EffectMedium     EffectSize = "medium"
	EffectLarge      EffectSize = "large"
)

// classifyEffect buckets |d| at the conventional 0.2 / 0.5 / 0.8 cut points.
func classifyEffect(d float64) EffectSize {
	switch d = math.Abs(d); {
	case d < 0.2:
		return EffectNegligible
	case d < 0.5:
		return EffectSmall
	case d < 0.8:
		return EffectMedium
	default:
		return EffectLarge
	}
}

// VariantStats summarizes one side of an experiment.
type VariantStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"` // sample standard deviation (n-1)
}

func describe(values []float64) VariantStats {
	if len(values) == 0 {
		return VariantStats{}
	}
	if len(values) == 1 {
		return VariantStats{Count: 1, Mean: values[0]}
	}
	mean, variance := stat.MeanVariance(values, nil)
	return VariantStats{Count: len(values), Mean: mean, StdDev: math.Sqrt(variance)}
}

// tTestResult is a pooled-variance independent two-sample t-test of
// treatment against control.
type tTestResult struct {
	t         float64
	p         float64
	df        int
	diff      float64 // treatment mean - control mean
	pooledStd float64
	cohensD   float64
	ciLower   float64
	ciUpper   float64
}

// pooledTTest requires both sides to hold at least two samples. With zero
// pooled variance the test is undefined; it then reports t=0, p=1 and d=0
// with a degenerate interval at the observed difference.
func pooledTTest(control, treatment VariantStats, confidence float64) tTestResult {
	n1, n2 := float64(control.Count), float64(treatment.Count)
	df := control.Count + treatment.Count - 2
	pooledVar := ((n1-1)*control.StdDev*control.StdDev + (n2-1)*treatment.StdDev*treatment.StdDev) / float64(df)
	res := tTestResult{
		p:         1,
		df:        df,
		diff:      treatment.Mean - control.Mean,
		pooledStd: math.Sqrt(pooledVar),
	}
	if res.pooledStd == 0 {
		res.ciLower, res.ciUpper = res.diff, res.diff
		return res
	}

	se := res.pooledStd * math.Sqrt(1/n1+1/n2)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	res.t = res.diff / se
	res.p = math.Min(1, 2*dist.CDF(-math.Abs(res.t)))
	crit := dist.Quantile(1 - (1-confidence)/2)
	res.ciLower = res.diff - crit*se
	res.ciUpper = res.diff + crit*se
	res.cohensD = res.diff / res.pooledStd
	return res
}
