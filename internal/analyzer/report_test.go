package analyzer

import (
	"encoding/json"
	"testing"

	"github.com/duskrow/perpbacktest/internal/experiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_MarkdownIncludesTopRunsAndImportance(t *testing.T) {
	out, err := Report(sampleRuns(), Markdown, ReportOptions{Name: "sweep-1", Metric: "sharpe", Direction: experiment.Maximize})
	require.NoError(t, err)
	assert.Contains(t, out, "# Experiment Report: sweep-1")
	assert.Contains(t, out, "## Top Runs")
	assert.Contains(t, out, "## Parameter Importance")
	assert.Contains(t, out, "## Correlation Matrix")
}

func TestReport_JSONIsValidAndRoundTrips(t *testing.T) {
	out, err := Report(sampleRuns(), JSON, ReportOptions{Name: "sweep-1", Metric: "sharpe", Direction: experiment.Maximize})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "sweep-1", decoded["name"])
	assert.Equal(t, float64(4), decoded["total_runs"])
}

func TestReport_HTMLEscapesUntrustedFields(t *testing.T) {
	runs := []experiment.TaskResult{
		{Symbol: "<script>BTC</script>", ComboID: "c0", Status: "completed", Metrics: map[string]float64{"sharpe": 1.0}},
	}
	out, err := Report(runs, HTML, ReportOptions{Name: "sweep", Metric: "sharpe", Direction: experiment.Maximize})
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>BTC</script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestReport_UnknownFormatErrors(t *testing.T) {
	_, err := Report(sampleRuns(), Format("yaml"), ReportOptions{Metric: "sharpe"})
	assert.Error(t, err)
}
