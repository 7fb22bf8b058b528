package stops

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskrow/perpbacktest/internal/backtest"
	"github.com/duskrow/perpbacktest/internal/broker"
	"github.com/duskrow/perpbacktest/internal/series"
)

var _ backtest.StopManager = (*Manager)(nil)

func longPos(entry float64, at time.Time) *broker.Position {
	return &broker.Position{Side: broker.Long, Size: 1, Entry: entry, EntryTime: at}
}

func bar(at time.Time, o, h, l, c float64) series.Bar {
	return series.Bar{Time: at, Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func TestUpdate_FixedStopIsEntryMinusPct(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(Config{StopType: StopFixed, FixedStopPct: 0.02})
	pos := longPos(100, start)

	sl, _ := m.Update(pos, bar(start, 100, 101, 99, 100))
	require.NotNil(t, sl)
	assert.InDelta(t, 98.0, *sl, 1e-9)
}

func TestUpdate_RiskRewardTakeProfitUsesStopDistance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(Config{StopType: StopFixed, FixedStopPct: 0.05, TakeProfitType: TakeProfitRiskReward, RiskRewardRatio: 2})
	pos := longPos(100, start)

	sl, tp := m.Update(pos, bar(start, 100, 101, 99, 100))
	require.NotNil(t, sl)
	require.NotNil(t, tp)
	assert.InDelta(t, 95.0, *sl, 1e-9)
	assert.InDelta(t, 110.0, *tp, 1e-9) // entry + 2*(entry-sl) = 100 + 2*5
}

func TestUpdate_TrailingStopRatchetsInFavorOnly(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(Config{StopType: StopTrailing, TrailingActivationPct: 0.01, TrailingDistancePct: 0.01})
	pos := longPos(100, start)

	sl1, _ := m.Update(pos, bar(start, 100, 105, 99, 104))
	require.NotNil(t, sl1)
	first := *sl1

	// Price pulls back but stays above entry; the trailing stop must not loosen.
	sl2, _ := m.Update(pos, bar(start.Add(time.Hour), 104, 104, 102, 103))
	require.NotNil(t, sl2)
	assert.InDelta(t, first, *sl2, 1e-9)

	// A new high ratchets the stop up further.
	sl3, _ := m.Update(pos, bar(start.Add(2*time.Hour), 103, 110, 103, 109))
	require.NotNil(t, sl3)
	assert.Greater(t, *sl3, first)
}

func TestUpdate_ATRStopReturnsNilDuringWarmup(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(Config{StopType: StopATR, ATRPeriod: 14, ATRMultiplier: 1.5})
	pos := longPos(100, start)

	sl, _ := m.Update(pos, bar(start, 100, 101, 99, 100))
	assert.Nil(t, sl, "a single bar of history cannot produce an ATR")
}

func TestUpdate_NewPositionResetsWatermark(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(Config{StopType: StopTrailing, TrailingActivationPct: 0.01, TrailingDistancePct: 0.01})
	pos := longPos(100, start)
	m.Update(pos, bar(start, 100, 120, 99, 119))

	next := longPos(50, start.Add(time.Hour))
	sl, _ := m.Update(next, bar(start.Add(time.Hour), 50, 50, 49, 50))
	assert.Nil(t, sl, "a freshly entered position hasn't moved enough to activate trailing yet")
}
