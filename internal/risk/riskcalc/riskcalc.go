// Package riskcalc bundles portfolio-level risk statistics — the same
// return-series formulas the metrics package applies to one backtest's
// equity curve, extended across multiple return series for
// correlation, beta, and information-ratio comparisons — plus
// per-position risk sizing helpers.
package riskcalc

import "math"

// Metrics is one return series' risk bundle, alongside benchmark (if
// the caller supplied one).
type Metrics struct {
	TotalReturn          float64
	AnnualizedReturn     float64
	Volatility           float64
	AnnualizedVolatility float64
	SharpeRatio          float64
	SortinoRatio         float64
	MaxDrawdown          float64

	// Beta and InformationRatio are NaN unless a benchmark series was
	// supplied to Compute.
	Beta             float64
	InformationRatio float64
}

// Compute derives Metrics for each named return series in returns
// (fractional bar returns, not equity levels), plus the pairwise
// correlation matrix across all of them. benchmark, if non-nil, is
// used to compute beta and information ratio for every series.
func Compute(returns map[string][]float64, benchmark []float64, riskFreeRate, barsPerYear float64) (map[string]Metrics, map[string]map[string]float64) {
	out := make(map[string]Metrics, len(returns))
	for name, rs := range returns {
		m := Metrics{
			TotalReturn:          cumulative(rs),
			Volatility:           stdDev(rs),
			SharpeRatio:          sharpe(rs, riskFreeRate, barsPerYear),
			SortinoRatio:         sortino(rs, riskFreeRate, barsPerYear),
			MaxDrawdown:          maxDrawdownFromReturns(rs),
			Beta:                 math.NaN(),
			InformationRatio:     math.NaN(),
		}
		m.AnnualizedReturn = annualize(m.TotalReturn, float64(len(rs)), barsPerYear)
		m.AnnualizedVolatility = m.Volatility * math.Sqrt(barsPerYear)

		if benchmark != nil {
			m.Beta = beta(rs, benchmark)
			m.InformationRatio = informationRatio(rs, benchmark, barsPerYear)
		}
		out[name] = m
	}

	return out, correlationMatrix(returns)
}

// PositionRisk returns the dollar risk and risk-as-fraction-of-account
// for an open position sized at size with stop-loss stopLoss.
func PositionRisk(size, entry, stopLoss, accountBalance float64) (riskAmount, riskPct float64) {
	riskAmount = size * math.Abs(entry-stopLoss)
	if accountBalance == 0 {
		return riskAmount, math.NaN()
	}
	return riskAmount, riskAmount / accountBalance
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

func cumulative(returns []float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	total := 1.0
	for _, r := range returns {
		total *= 1 + r
	}
	return total - 1
}

func annualize(totalRet, numBars, barsPerYear float64) float64 {
	if numBars <= 0 || math.IsNaN(totalRet) {
		return math.NaN()
	}
	return math.Pow(1+totalRet, barsPerYear/numBars) - 1
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

// maxDrawdownFromReturns rebuilds a unit equity curve from returns and
// reuses the peak-tracking drawdown calculation.
func maxDrawdownFromReturns(returns []float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	equity := 1.0
	peak := 1.0
	maxDD := 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak == 0 {
			continue
		}
		dd := (peak - equity) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// beta is Cov(returns, benchmark) / Var(benchmark) over their common
// length (returns and benchmark are aligned by index from the start).
func beta(returns, benchmark []float64) float64 {
	n := minLen(returns, benchmark)
	if n < 2 {
		return math.NaN()
	}
	rs, bs := returns[:n], benchmark[:n]
	mr, mb := mean(rs), mean(bs)

	var cov, varB float64
	for i := 0; i < n; i++ {
		dr := rs[i] - mr
		db := bs[i] - mb
		cov += dr * db
		varB += db * db
	}
	if varB == 0 {
		return math.NaN()
	}
	return cov / varB
}

// informationRatio is the annualized mean/stddev of the active return
// (returns - benchmark).
func informationRatio(returns, benchmark []float64, barsPerYear float64) float64 {
	n := minLen(returns, benchmark)
	if n == 0 {
		return math.NaN()
	}
	active := make([]float64, n)
	for i := 0; i < n; i++ {
		active[i] = returns[i] - benchmark[i]
	}
	sd := stdDev(active)
	if sd == 0 || math.IsNaN(sd) {
		return math.NaN()
	}
	return mean(active) / sd * math.Sqrt(barsPerYear)
}

// correlationMatrix computes pairwise Pearson correlation across every
// pair of named return series, aligned by index from the start.
func correlationMatrix(returns map[string][]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(returns))
	for a, xs := range returns {
		out[a] = make(map[string]float64, len(returns))
		for b, ys := range returns {
			out[a][b] = pearson(xs, ys)
		}
	}
	return out
}

func pearson(xs, ys []float64) float64 {
	n := minLen(xs, ys)
	if n < 2 {
		return math.NaN()
	}
	xs, ys = xs[:n], ys[:n]
	mx, my := mean(xs), mean(ys)

	var num, sumXSq, sumYSq float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		num += dx * dy
		sumXSq += dx * dx
		sumYSq += dy * dy
	}
	denom := math.Sqrt(sumXSq * sumYSq)
	if denom == 0 {
		return math.NaN()
	}
	return num / denom
}

func minLen(a, b []float64) int {
	if len(a) < len(b) {
		return len(a)
	}
	return len(b)
}
