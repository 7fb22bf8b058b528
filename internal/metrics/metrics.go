// Package metrics computes the performance and trade statistics the
// result analyzer and experiment runner rank on, from a completed
// backtest's equity curve and trade log. Every division guard returns
// NaN or +Inf as documented rather than panicking — a flat run or an
// empty trade log is a valid, analyzable outcome, not an error.
package metrics

import (
	"math"
	"sort"

	"github.com/duskrow/perpbacktest/internal/broker"
)

// Input is everything Compute needs.
type Input struct {
	EquityCurve []broker.EquityPoint
	TradeLog    []broker.Trade
	InitialCash float64
	// RiskFreeRate is annualized, e.g. 0.02 for 2%.
	RiskFreeRate float64
	// BarsPerYear annualizes bar-level statistics; e.g. 24*365 for
	// hourly bars, 365 for daily bars. The caller derives this from the
	// run's timeframe (see series.Timeframe.Duration).
	BarsPerYear float64
}

// Result is the full §4.10 metric set.
type Result struct {
	TotalReturn          float64
	AnnualizedReturn     float64
	MaxDrawdown          float64
	MaxDrawdownDuration  int
	Volatility           float64
	AnnualizedVolatility float64
	SharpeRatio          float64
	SortinoRatio         float64
	CalmarRatio          float64
	VaR95                float64
	VaR99                float64
	CVaR95               float64
	CVaR99               float64

	NumTrades            int
	WinRate              float64
	AvgWin               float64
	AvgLoss              float64
	WinLossRatio         float64
	ProfitFactor         float64
	Expectancy           float64
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
}

// Compute derives Result from in. A nil EquityCurve yields NaN for every
// equity statistic; a single-point curve still gets TotalReturn and a 0
// MaxDrawdown, but NaN for the per-bar return statistics; a nil TradeLog yields
// NaN for every trade statistic, per §4.10's edge-case rules.
func Compute(in Input) Result {
	r := Result{}

	equity := make([]float64, len(in.EquityCurve))
	for i, p := range in.EquityCurve {
		equity[i] = p.Equity
	}

	r.TotalReturn = totalReturn(in.InitialCash, equity)
	r.MaxDrawdown, r.MaxDrawdownDuration = maxDrawdown(equity)

	returns := barReturns(equity)
	barsPerYear := in.BarsPerYear
	if barsPerYear <= 0 {
		barsPerYear = 365
	}
	numBars := float64(len(equity) - 1)
	r.AnnualizedReturn = annualize(r.TotalReturn, numBars, barsPerYear)

	r.Volatility = stdDev(returns)
	r.AnnualizedVolatility = r.Volatility * math.Sqrt(barsPerYear)

	r.SharpeRatio = sharpe(returns, in.RiskFreeRate, barsPerYear)
	r.SortinoRatio = sortino(returns, in.RiskFreeRate, barsPerYear)
	r.CalmarRatio = calmar(r.AnnualizedReturn, r.MaxDrawdown)

	r.VaR95, r.CVaR95 = valueAtRisk(returns, 0.05)
	r.VaR99, r.CVaR99 = valueAtRisk(returns, 0.01)

	computeTradeStats(&r, in.TradeLog)

	return r
}

func totalReturn(initialCash float64, equity []float64) float64 {
	if initialCash == 0 || len(equity) == 0 {
		return math.NaN()
	}
	return (equity[len(equity)-1] - initialCash) / initialCash
}

func annualize(totalRet, numBars, barsPerYear float64) float64 {
	if numBars <= 0 || math.IsNaN(totalRet) {
		return math.NaN()
	}
	return math.Pow(1+totalRet, barsPerYear/numBars) - 1
}

// maxDrawdown returns the largest peak-to-trough decline (as a
// fraction) and the bar distance from that peak to its trough.
func maxDrawdown(equity []float64) (float64, int) {
	if len(equity) == 0 {
		return math.NaN(), 0
	}
	peak := equity[0]
	peakIdx := 0
	maxDD := 0.0
	maxDur := 0
	for i, e := range equity {
		if e > peak {
			peak = e
			peakIdx = i
		}
		if peak == 0 {
			continue
		}
		dd := (peak - e) / peak
		if dd > maxDD {
			maxDD = dd
			maxDur = i - peakIdx
		}
	}
	return maxDD, maxDur
}

func barReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1]
		if prev == 0 {
			out = append(out, math.NaN())
			continue
		}
		out = append(out, (equity[i]-prev)/prev)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)-1))
}

func sharpe(returns []float64, riskFreeRate, barsPerYear float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	sd := stdDev(returns)
	if sd == 0 || math.IsNaN(sd) {
		return math.NaN()
	}
	periodRF := riskFreeRate / barsPerYear
	return (mean(returns) - periodRF) / sd * math.Sqrt(barsPerYear)
}

func sortino(returns []float64, riskFreeRate, barsPerYear float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	periodRF := riskFreeRate / barsPerYear
	var sq float64
	var n int
	for _, r := range returns {
		if d := r - periodRF; d < 0 {
			sq += d * d
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	downside := math.Sqrt(sq / float64(n))
	if downside == 0 {
		return math.NaN()
	}
	return (mean(returns) - periodRF) / downside * math.Sqrt(barsPerYear)
}

func calmar(annualizedReturn, maxDD float64) float64 {
	if math.IsNaN(annualizedReturn) {
		return math.NaN()
	}
	if maxDD == 0 {
		if annualizedReturn == 0 {
			return math.NaN()
		}
		if annualizedReturn > 0 {
			return math.Inf(1)
		}
		return math.Inf(-1)
	}
	return annualizedReturn / math.Abs(maxDD)
}

// valueAtRisk returns the historical VaR and CVaR at tail probability p
// (e.g. 0.05 for VaR_95), both expressed as positive loss magnitudes.
func valueAtRisk(returns []float64, p float64) (vaR, cVaR float64) {
	if len(returns) == 0 {
		return math.NaN(), math.NaN()
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	vaR = -sorted[idx]

	tail := sorted[:idx+1]
	cVaR = -mean(tail)
	return vaR, cVaR
}

func computeTradeStats(r *Result, trades []broker.Trade) {
	r.NumTrades = len(trades)
	if len(trades) == 0 {
		r.WinRate = math.NaN()
		r.AvgWin = math.NaN()
		r.AvgLoss = math.NaN()
		r.WinLossRatio = math.NaN()
		r.ProfitFactor = math.NaN()
		r.Expectancy = math.NaN()
		return
	}

	var wins, losses []float64
	var curWinStreak, curLossStreak int
	for _, t := range trades {
		if t.PnL > 0 {
			wins = append(wins, t.PnL)
			curWinStreak++
			curLossStreak = 0
		} else {
			losses = append(losses, -t.PnL)
			curLossStreak++
			curWinStreak = 0
		}
		if curWinStreak > r.MaxConsecutiveWins {
			r.MaxConsecutiveWins = curWinStreak
		}
		if curLossStreak > r.MaxConsecutiveLosses {
			r.MaxConsecutiveLosses = curLossStreak
		}
	}

	r.WinRate = float64(len(wins)) / float64(len(trades))
	r.AvgWin = mean(wins)
	r.AvgLoss = mean(losses)

	switch {
	case len(losses) == 0 && len(wins) > 0:
		r.WinLossRatio = math.Inf(1)
		r.ProfitFactor = math.Inf(1)
	case len(wins) == 0:
		r.WinLossRatio = math.NaN()
		r.ProfitFactor = 0
	default:
		r.WinLossRatio = r.AvgWin / r.AvgLoss
		r.ProfitFactor = sum(wins) / sum(losses)
	}

	avgWin, avgLoss := r.AvgWin, r.AvgLoss
	if math.IsNaN(avgWin) {
		avgWin = 0
	}
	if math.IsNaN(avgLoss) {
		avgLoss = 0
	}
	r.Expectancy = r.WinRate*avgWin - (1-r.WinRate)*avgLoss
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}
