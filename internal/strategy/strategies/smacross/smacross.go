// Package smacross implements a declarative (vectorized) moving-average
// crossover strategy: long while the fast SMA is above the slow SMA,
// short while below.
package smacross

import (
	"fmt"

	"github.com/duskrow/perpbacktest/internal/broker"
	"github.com/duskrow/perpbacktest/internal/series"
	"github.com/duskrow/perpbacktest/internal/strategy"
)

const ID = "sma_cross"

type smaCross struct{}

// Descriptor returns the registry entry for this strategy.
func Descriptor() strategy.Descriptor {
	return strategy.Descriptor{
		ID: ID,
		Metadata: strategy.Metadata{
			ID:          ID,
			Name:        "SMA Crossover",
			Description: "Long when the fast SMA is above the slow SMA, short when below.",
			Version:     "1.0.0",
		},
		Parameters: map[string]strategy.ParameterSpec{
			"fast": {Name: "fast", Type: strategy.ParamInt, Default: 10, Min: 2, Max: 100},
			"slow": {Name: "slow", Type: strategy.ParamInt, Default: 30, Min: 3, Max: 400},
		},
		DataRequirements: []series.DataRequirement{
			{SourceKind: series.KindOHLCV, Required: true},
		},
		ValidateParameters: func(params map[string]interface{}) error {
			fast, slow := asInt(params["fast"]), asInt(params["slow"])
			if fast >= slow {
				return fmt.Errorf("smacross: fast (%d) must be less than slow (%d)", fast, slow)
			}
			return nil
		},
		New: func(_ *broker.Broker, _ map[series.Kind]series.Series, _ map[string]interface{}) (interface{}, error) {
			return &smaCross{}, nil
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

// ComputeSignals satisfies strategy.Declarative.
func (s *smaCross) ComputeSignals(data map[series.Kind]series.Series, params map[string]interface{}) ([]strategy.Signal, error) {
	ohlcv, ok := data[series.KindOHLCV]
	if !ok {
		return nil, fmt.Errorf("smacross: OHLCV series is required")
	}
	fast, slow := asInt(params["fast"]), asInt(params["slow"])
	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, fmt.Errorf("smacross: invalid fast/slow parameters (%d, %d)", fast, slow)
	}

	closes := make([]float64, len(ohlcv.Bars))
	for i, b := range ohlcv.Bars {
		closes[i] = b.Close
	}

	fastSMA := sma(closes, fast)
	slowSMA := sma(closes, slow)

	signals := make([]strategy.Signal, len(closes))
	for i := range closes {
		if i+1 < slow {
			signals[i] = strategy.SignalFlat
			continue
		}
		if fastSMA[i] > slowSMA[i] {
			signals[i] = strategy.SignalLong
		} else {
			signals[i] = strategy.SignalShort
		}
	}
	return signals, nil
}

// sma returns the trailing simple moving average of window length n at
// each index; indices with fewer than n prior points (inclusive) are 0,
// since the caller treats them as not-yet-valid.
func sma(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	var sum float64
	for i, c := range closes {
		sum += c
		if i >= n {
			sum -= closes[i-n]
		}
		if i+1 >= n {
			out[i] = sum / float64(n)
		}
	}
	return out
}

var _ strategy.Declarative = (*smaCross)(nil)
