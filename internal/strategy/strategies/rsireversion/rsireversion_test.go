package rsireversion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskrow/perpbacktest/internal/broker"
	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/duskrow/perpbacktest/internal/strategy"
)

func TestDescriptor_ValidateParametersRejectsInvertedThresholds(t *testing.T) {
	d := Descriptor()
	err := d.ValidateParameters(map[string]interface{}{"oversold": 70.0, "overbought": 30.0})
	assert.Error(t, err)
}

func TestOnBar_EntersLongAfterSustainedDecline(t *testing.T) {
	d := Descriptor()
	b := broker.New(10000, 0, 5, 0.005)
	inst, err := d.New(b, nil, map[string]interface{}{"period": 5, "oversold": 30.0, "overbought": 70.0})
	require.NoError(t, err)
	s := inst.(strategy.Imperative)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	closes := []float64{100, 98, 96, 94, 92, 90} // steady decline => low RSI
	for i, c := range closes {
		bar := series.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c, Volume: 1}
		require.NoError(t, s.OnBar(strategy.BarContext{Index: i, Bar: bar, Broker: b}))
	}
	require.NotNil(t, b.Position(), "a sustained decline should trigger an oversold long entry")
	assert.Equal(t, broker.Long, b.Position().Side)
}

func TestOnBar_NoEntryDuringWarmup(t *testing.T) {
	d := Descriptor()
	b := broker.New(10000, 0, 5, 0.005)
	inst, err := d.New(b, nil, map[string]interface{}{"period": 14, "oversold": 30.0, "overbought": 70.0})
	require.NoError(t, err)
	s := inst.(strategy.Imperative)

	bar := series.Bar{Time: time.Now(), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1}
	require.NoError(t, s.OnBar(strategy.BarContext{Bar: bar, Broker: b}))
	assert.Nil(t, b.Position())
}
