package sr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskrow/perpbacktest/internal/series"
)

func bar(t time.Time, high, low float64) series.Bar {
	return series.Bar{Time: t, Open: low, High: high, Low: low, Close: low, Volume: 1}
}

func TestDetect_FindsResistanceAtLocalMax(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []series.Bar{
		bar(start, 100, 95),
		bar(start.Add(time.Hour), 105, 98),
		bar(start.Add(2*time.Hour), 120, 100), // local max
		bar(start.Add(3*time.Hour), 108, 99),
		bar(start.Add(4*time.Hour), 102, 96),
	}
	levels := Detect(bars, DefaultConfig(), nil)

	found := false
	for _, l := range levels {
		if l.Type == Resistance && l.Price == 120 {
			found = true
		}
	}
	assert.True(t, found, "expected a resistance level at the local max of 120")
}

func TestDetect_ClustersNearbyExtrema(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// Two local minima within 0.2% of each other should cluster into one level.
	bars := []series.Bar{
		bar(start, 110, 105),
		bar(start.Add(time.Hour), 108, 100.0),
		bar(start.Add(2*time.Hour), 112, 106),
		bar(start.Add(3*time.Hour), 109, 102),
		bar(start.Add(4*time.Hour), 111, 100.1),
		bar(start.Add(5*time.Hour), 113, 107),
	}
	// Lookback 1 so both 100.0 (bar 1) and 100.1 (bar 4) are local minima.
	levels := Detect(bars, Config{Lookback: 1, PriceTolerance: 0.002}, nil)

	for _, l := range levels {
		if l.Type == Support {
			assert.Equal(t, 2, l.Touches)
		}
	}
}

func TestNearestSupport_ReturnsHighestLevelBelowPrice(t *testing.T) {
	levels := []Level{
		{Price: 90, Type: Support},
		{Price: 95, Type: Support},
		{Price: 105, Type: Resistance},
	}
	l, ok := NearestSupport(100, levels)
	require.True(t, ok)
	assert.Equal(t, 95.0, l.Price)
}

func TestNearestResistance_ReturnsLowestLevelAbovePrice(t *testing.T) {
	levels := []Level{
		{Price: 90, Type: Support},
		{Price: 110, Type: Resistance},
		{Price: 120, Type: Resistance},
	}
	l, ok := NearestResistance(100, levels)
	require.True(t, ok)
	assert.Equal(t, 110.0, l.Price)
}

func TestNearestSupport_NoneBelowReturnsFalse(t *testing.T) {
	levels := []Level{{Price: 150, Type: Support}}
	_, ok := NearestSupport(100, levels)
	assert.False(t, ok)
}
