package analyzer

import (
	"testing"

	"github.com/duskrow/perpbacktest/internal/experiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterImportance_ScoresInformativeParamHigherThanNoise(t *testing.T) {
	var runs []experiment.TaskResult
	// sharpe tracks "fast" exactly; "noise" is unrelated.
	for i, fast := range []int{5, 5, 5, 10, 10, 10, 20, 20, 20} {
		sharpe := float64(fast) / 10
		runs = append(runs, experiment.TaskResult{
			Symbol:  "BTC/USDT",
			ComboID: "c" + string(rune('0'+i)),
			Params:  map[string]interface{}{"fast": fast, "noise": i % 2},
			Metrics: map[string]float64{"sharpe": sharpe},
			Status:  "completed",
		})
	}

	importance := ParameterImportance(runs, "sharpe", 42)
	require.Contains(t, importance, "fast")
	require.Contains(t, importance, "noise")
	assert.Greater(t, importance["fast"], importance["noise"])

	var total float64
	for _, v := range importance {
		total += v
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestParameterImportance_DeterministicGivenSameSeed(t *testing.T) {
	var runs []experiment.TaskResult
	for i, fast := range []int{5, 10, 15, 20, 25} {
		runs = append(runs, experiment.TaskResult{
			Symbol:  "BTC/USDT",
			ComboID: "c" + string(rune('0'+i)),
			Params:  map[string]interface{}{"fast": fast},
			Metrics: map[string]float64{"sharpe": float64(fast)},
			Status:  "completed",
		})
	}

	a := ParameterImportance(runs, "sharpe", 7)
	b := ParameterImportance(runs, "sharpe", 7)
	assert.Equal(t, a, b)
}

func TestParameterImportance_TooFewCompletedRunsReturnsEmpty(t *testing.T) {
	runs := []experiment.TaskResult{
		{Symbol: "BTC/USDT", ComboID: "c0", Params: map[string]interface{}{"fast": 5}, Metrics: map[string]float64{"sharpe": 1.0}, Status: "completed"},
	}
	assert.Empty(t, ParameterImportance(runs, "sharpe", 1))
}
