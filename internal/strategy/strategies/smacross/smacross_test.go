package smacross

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/duskrow/perpbacktest/internal/strategy"
)

func barsFromCloses(closes ...float64) []series.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]series.Bar, len(closes))
	for i, c := range closes {
		bars[i] = series.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars
}

func TestDescriptor_ValidateParametersRejectsFastGESlow(t *testing.T) {
	d := Descriptor()
	err := d.ValidateParameters(map[string]interface{}{"fast": 30, "slow": 10})
	assert.Error(t, err)
}

func TestComputeSignals_TrendUpProducesLong(t *testing.T) {
	d := Descriptor()
	inst, err := d.New(nil, nil, nil)
	require.NoError(t, err)
	s := inst.(strategy.Declarative)

	closes := make([]float64, 0, 20)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100+float64(i))
	}
	data := map[series.Kind]series.Series{series.KindOHLCV: {Kind: series.KindOHLCV, Bars: barsFromCloses(closes...)}}

	signals, err := s.ComputeSignals(data, map[string]interface{}{"fast": 3, "slow": 5})
	require.NoError(t, err)
	require.Len(t, signals, 20)
	assert.Equal(t, strategy.SignalLong, signals[len(signals)-1], "a steady uptrend must end long")
}

func TestComputeSignals_WarmupBarsAreFlat(t *testing.T) {
	d := Descriptor()
	inst, err := d.New(nil, nil, nil)
	require.NoError(t, err)
	s := inst.(strategy.Declarative)

	data := map[series.Kind]series.Series{series.KindOHLCV: {Kind: series.KindOHLCV, Bars: barsFromCloses(1, 2, 3)}}
	signals, err := s.ComputeSignals(data, map[string]interface{}{"fast": 3, "slow": 5})
	require.NoError(t, err)
	for _, sig := range signals {
		assert.Equal(t, strategy.SignalFlat, sig)
	}
}
