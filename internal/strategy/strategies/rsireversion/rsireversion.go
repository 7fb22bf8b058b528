// Package rsireversion implements an imperative mean-reversion strategy
// driven bar-by-bar: enter against an RSI extreme, exit back through the
// midline.
package rsireversion

import (
	"fmt"

	"github.com/duskrow/perpbacktest/internal/broker"
	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/duskrow/perpbacktest/internal/strategy"
)

const ID = "rsi_reversion"

// Descriptor returns the registry entry for this strategy.
func Descriptor() strategy.Descriptor {
	return strategy.Descriptor{
		ID: ID,
		Metadata: strategy.Metadata{
			ID:          ID,
			Name:        "RSI Reversion",
			Description: "Enters against an RSI extreme, exits back through the midline.",
			Version:     "1.0.0",
		},
		Parameters: map[string]strategy.ParameterSpec{
			"period":     {Name: "period", Type: strategy.ParamInt, Default: 14, Min: 2, Max: 100},
			"oversold":   {Name: "oversold", Type: strategy.ParamFloat, Default: 30.0, Min: 1, Max: 49},
			"overbought": {Name: "overbought", Type: strategy.ParamFloat, Default: 70.0, Min: 51, Max: 99},
		},
		DataRequirements: []series.DataRequirement{
			{SourceKind: series.KindOHLCV, Required: true},
		},
		ValidateParameters: func(params map[string]interface{}) error {
			os, ob := asFloat(params["oversold"]), asFloat(params["overbought"])
			if os >= ob {
				return fmt.Errorf("rsireversion: oversold (%v) must be less than overbought (%v)", os, ob)
			}
			return nil
		},
		New: func(b *broker.Broker, _ map[series.Kind]series.Series, params map[string]interface{}) (interface{}, error) {
			period := asInt(params["period"])
			if period < 2 {
				return nil, fmt.Errorf("rsireversion: period must be >= 2")
			}
			return &rsiReversion{
				broker:     b,
				period:     period,
				oversold:   asFloat(params["oversold"]),
				overbought: asFloat(params["overbought"]),
			}, nil
		},
	}
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

type rsiReversion struct {
	broker     *broker.Broker
	period     int
	oversold   float64
	overbought float64

	closes []float64
}

// OnBar satisfies strategy.Imperative.
func (s *rsiReversion) OnBar(ctx strategy.BarContext) error {
	s.closes = append(s.closes, ctx.Bar.Close)
	if len(s.closes) < s.period+1 {
		return nil
	}
	if len(s.closes) > s.period+1 {
		s.closes = s.closes[len(s.closes)-(s.period+1):]
	}

	rsi := s.rsi()
	pos := s.broker.Position()

	switch {
	case pos == nil && rsi <= s.oversold:
		return s.broker.BuyAll(ctx.Bar.Close, ctx.Bar.Time)
	case pos == nil && rsi >= s.overbought:
		return s.broker.SellAll(ctx.Bar.Close, ctx.Bar.Time)
	case pos != nil && pos.Side == broker.Long && rsi >= 50:
		return s.broker.Close(ctx.Bar.Close, ctx.Bar.Time, "rsi_midline_exit")
	case pos != nil && pos.Side == broker.Short && rsi <= 50:
		return s.broker.Close(ctx.Bar.Close, ctx.Bar.Time, "rsi_midline_exit")
	}
	return nil
}

// rsi computes RSI from simple averages of the gains and losses in the
// trailing window; there is no Wilder smoothing carried across bars.
func (s *rsiReversion) rsi() float64 {
	var gainSum, lossSum float64
	for i := 1; i < len(s.closes); i++ {
		delta := s.closes[i] - s.closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	n := float64(s.period)
	avgGain, avgLoss := gainSum/n, lossSum/n
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

var _ strategy.Imperative = (*rsiReversion)(nil)
