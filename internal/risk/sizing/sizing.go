// Package sizing computes position size from account risk parameters:
// fixed dollar amount, fixed fractional risk, Kelly criterion,
// volatility-adjusted, and flat equity-percentage methods, all clamped
// to an account's maximum position size and leverage.
package sizing

import (
	"fmt"
	"math"
)

// Method selects the sizing formula.
type Method string

const (
	FixedAmount       Method = "fixed_amount"
	FixedRisk         Method = "fixed_risk"
	Kelly             Method = "kelly"
	VolatilityAdjusted Method = "volatility_adjusted"
	EquityPercentage  Method = "equity_percentage"
)

// Params bundles every input a sizing method might need; only the
// fields the chosen Method reads are required.
type Params struct {
	Method Method

	AccountBalance float64
	Entry          float64
	StopLoss       float64

	// FixedAmount: dollar notional to allocate.
	Amount float64

	// FixedRisk: fraction of account to risk on this trade (e.g. 0.01
	// for 1%).
	RiskPct float64

	// Kelly: trailing win rate and average win/loss ratio driving
	// f = W - (1-W)/R. KellyFraction scales the raw Kelly stake down
	// (default 0.25, i.e. quarter-Kelly).
	WinRate       float64
	AvgWin        float64
	AvgLoss       float64
	KellyFraction float64

	// VolatilityAdjusted: scales a baseline allocation by
	// TargetVolatility/CurrentVolatility.
	BaselinePct      float64
	TargetVolatility float64
	CurrentVolatility float64

	// EquityPercentage: flat fraction of account balance.
	EquityPct float64

	// Clamps applied to every method's result.
	MaxPositionPct float64
	MaxLeverage    float64
}

// Size is the sizing outcome.
type Size struct {
	Method        Method
	Quantity      float64
	NotionalValue float64
	RiskAmount    float64
}

// Compute sizes a position per p.Method, then clamps the resulting
// notional to MaxPositionPct of AccountBalance and MaxLeverage*AccountBalance.
func Compute(p Params) (Size, error) {
	if p.Entry <= 0 {
		return Size{}, fmt.Errorf("sizing: entry price must be positive")
	}

	var notional float64
	switch p.Method {
	case FixedAmount:
		notional = p.Amount

	case FixedRisk:
		if p.Entry == p.StopLoss {
			return Size{}, fmt.Errorf("sizing: fixed_risk requires entry != stop_loss")
		}
		riskAmount := p.AccountBalance * p.RiskPct
		perUnitRisk := math.Abs(p.Entry - p.StopLoss)
		notional = riskAmount / perUnitRisk * p.Entry

	case Kelly:
		notional = kellyNotional(p)

	case VolatilityAdjusted:
		if p.CurrentVolatility <= 0 {
			return Size{}, fmt.Errorf("sizing: volatility_adjusted requires current_volatility > 0")
		}
		scale := p.TargetVolatility / p.CurrentVolatility
		notional = p.AccountBalance * p.BaselinePct * scale

	case EquityPercentage:
		notional = p.AccountBalance * p.EquityPct

	default:
		return Size{}, fmt.Errorf("sizing: unknown method %q", p.Method)
	}

	notional = clamp(notional, p)
	qty := notional / p.Entry

	riskAmount := qty * math.Abs(p.Entry-p.StopLoss)
	return Size{Method: p.Method, Quantity: qty, NotionalValue: notional, RiskAmount: riskAmount}, nil
}

// kellyNotional applies f = W - (1-W)/R, R = AvgWin/AvgLoss, scaled by
// KellyFraction (default 0.25) and clamped to [0, 1] before sizing.
func kellyNotional(p Params) float64 {
	if p.AvgLoss == 0 {
		return 0
	}
	r := p.AvgWin / p.AvgLoss
	f := p.WinRate - (1-p.WinRate)/r

	fraction := p.KellyFraction
	if fraction <= 0 {
		fraction = 0.25
	}
	f *= fraction

	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return p.AccountBalance * f
}

func clamp(notional float64, p Params) float64 {
	if notional < 0 {
		notional = 0
	}
	if p.MaxPositionPct > 0 {
		limit := p.AccountBalance * p.MaxPositionPct
		if notional > limit {
			notional = limit
		}
	}
	if p.MaxLeverage > 0 {
		limit := p.AccountBalance * p.MaxLeverage
		if notional > limit {
			notional = limit
		}
	}
	return notional
}
