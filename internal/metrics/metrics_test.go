package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/duskrow/perpbacktest/internal/broker"
)

func equityPoints(values ...float64) []broker.EquityPoint {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]broker.EquityPoint, len(values))
	for i, v := range values {
		out[i] = broker.EquityPoint{Time: start.Add(time.Duration(i) * time.Hour), Equity: v}
	}
	return out
}

func TestCompute_TotalReturn(t *testing.T) {
	r := Compute(Input{EquityCurve: equityPoints(1000, 1100, 1210), InitialCash: 1000, BarsPerYear: 24 * 365})
	assert.InDelta(t, 0.21, r.TotalReturn, 1e-9)
}

func TestCompute_MaxDrawdown(t *testing.T) {
	r := Compute(Input{EquityCurve: equityPoints(1000, 1200, 900, 1000), InitialCash: 1000, BarsPerYear: 365})
	assert.InDelta(t, 0.25, r.MaxDrawdown, 1e-9) // (1200-900)/1200
	assert.Equal(t, 1, r.MaxDrawdownDuration)    // peak at index 1, trough at index 2
}

func TestCompute_NoTrades_AllTradeStatsNaN(t *testing.T) {
	r := Compute(Input{EquityCurve: equityPoints(1000, 1000), InitialCash: 1000, BarsPerYear: 365})
	assert.Equal(t, 0, r.NumTrades)
	assert.True(t, math.IsNaN(r.WinRate))
	assert.True(t, math.IsNaN(r.ProfitFactor))
	assert.True(t, math.IsNaN(r.Expectancy))
}

func TestCompute_ConstantEquity_SharpeIsNaN(t *testing.T) {
	r := Compute(Input{EquityCurve: equityPoints(1000, 1000, 1000, 1000), InitialCash: 1000, BarsPerYear: 365})
	assert.True(t, math.IsNaN(r.SharpeRatio))
}

func TestCompute_ProfitFactor_NoLossesIsPositiveInfinity(t *testing.T) {
	trades := []broker.Trade{{PnL: 10}, {PnL: 20}}
	r := Compute(Input{EquityCurve: equityPoints(1000, 1030), InitialCash: 1000, TradeLog: trades, BarsPerYear: 365})
	assert.True(t, math.IsInf(r.ProfitFactor, 1))
}

func TestCompute_WinRateAndExpectancy(t *testing.T) {
	trades := []broker.Trade{{PnL: 100}, {PnL: -50}, {PnL: 100}, {PnL: -50}}
	r := Compute(Input{EquityCurve: equityPoints(1000, 1100), InitialCash: 1000, TradeLog: trades, BarsPerYear: 365})
	assert.InDelta(t, 0.5, r.WinRate, 1e-9)
	assert.InDelta(t, 100, r.AvgWin, 1e-9)
	assert.InDelta(t, 50, r.AvgLoss, 1e-9)
	assert.InDelta(t, 2.0, r.ProfitFactor, 1e-9) // 200/100
	assert.InDelta(t, 25.0, r.Expectancy, 1e-9)  // 0.5*100 - 0.5*50
}

func TestCompute_MaxConsecutiveStreaks(t *testing.T) {
	trades := []broker.Trade{{PnL: 10}, {PnL: 10}, {PnL: -5}, {PnL: -5}, {PnL: -5}, {PnL: 10}}
	r := Compute(Input{EquityCurve: equityPoints(1000, 1020), InitialCash: 1000, TradeLog: trades, BarsPerYear: 365})
	assert.Equal(t, 2, r.MaxConsecutiveWins)
	assert.Equal(t, 3, r.MaxConsecutiveLosses)
}

func TestCompute_VaRIsPositiveLossMagnitude(t *testing.T) {
	r := Compute(Input{EquityCurve: equityPoints(1000, 950, 1000, 900, 1000, 1050), InitialCash: 1000, BarsPerYear: 365})
	assert.GreaterOrEqual(t, r.VaR95, 0.0)
	assert.GreaterOrEqual(t, r.CVaR95, 0.0)
}
