package riskcalc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute_TotalReturnCompoundsBarReturns(t *testing.T) {
	metrics, _ := Compute(map[string][]float64{"a": {0.1, 0.1}}, nil, 0, 365)
	assert.InDelta(t, 0.21, metrics["a"].TotalReturn, 1e-9)
}

func TestCompute_BetaAgainstBenchmark(t *testing.T) {
	returns := map[string][]float64{"a": {0.02, -0.01, 0.03, -0.02}}
	benchmark := []float64{0.01, -0.005, 0.015, -0.01}
	metrics, _ := Compute(returns, benchmark, 0, 365)
	assert.False(t, math.IsNaN(metrics["a"].Beta))
}

func TestCompute_NoBenchmarkLeavesBetaNaN(t *testing.T) {
	metrics, _ := Compute(map[string][]float64{"a": {0.01, 0.02}}, nil, 0, 365)
	assert.True(t, math.IsNaN(metrics["a"].Beta))
	assert.True(t, math.IsNaN(metrics["a"].InformationRatio))
}

func TestCorrelationMatrix_SelfCorrelationIsOne(t *testing.T) {
	returns := map[string][]float64{
		"a": {0.01, -0.02, 0.03, -0.01},
		"b": {0.02, -0.01, 0.01, 0.00},
	}
	_, corr := Compute(returns, nil, 0, 365)
	assert.InDelta(t, 1.0, corr["a"]["a"], 1e-9)
}

func TestCorrelationMatrix_PerfectAntiCorrelation(t *testing.T) {
	returns := map[string][]float64{
		"a": {0.01, 0.02, 0.03, 0.04},
		"b": {-0.01, -0.02, -0.03, -0.04},
	}
	_, corr := Compute(returns, nil, 0, 365)
	assert.InDelta(t, -1.0, corr["a"]["b"], 1e-9)
}

func TestPositionRisk_ComputesAmountAndPct(t *testing.T) {
	amount, pct := PositionRisk(2, 100, 95, 10000)
	assert.InDelta(t, 10.0, amount, 1e-9)
	assert.InDelta(t, 0.001, pct, 1e-9)
}
