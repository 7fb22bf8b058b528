// Package series defines the shared time-series data model consumed by
// the exchange connectors, storage, quality controller, and pipeline:
// bars, perpetual-contract series, timeframes, and data requirements.
package series

import (
	"fmt"
	"time"
)

// Timeframe is one of the finite closed set of supported bar intervals.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// Duration returns the nominal bar interval for a timeframe.
func (tf Timeframe) Duration() (time.Duration, error) {
	switch tf {
	case TF1m:
		return time.Minute, nil
	case TF5m:
		return 5 * time.Minute, nil
	case TF15m:
		return 15 * time.Minute, nil
	case TF1h:
		return time.Hour, nil
	case TF4h:
		return 4 * time.Hour, nil
	case TF1d:
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("series: unknown timeframe %q", tf)
	}
}

func (tf Timeframe) Valid() bool {
	_, err := tf.Duration()
	return err == nil
}

// Bar is one OHLCV record at a fixed timeframe.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Validate enforces the OHLCV invariant: low <= min(open,close) <=
// max(open,close) <= high, low > 0.
func (b Bar) Validate() error {
	if b.Low <= 0 {
		return fmt.Errorf("series: bar at %s has non-positive low %v", b.Time, b.Low)
	}
	lo := min2(b.Open, b.Close)
	hi := max2(b.Open, b.Close)
	if !(b.Low <= lo && lo <= hi && hi <= b.High) {
		return fmt.Errorf("series: bar at %s violates OHLC invariant (O=%v H=%v L=%v C=%v)",
			b.Time, b.Open, b.High, b.Low, b.Close)
	}
	return nil
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Kind identifies the flavour of a Series.
type Kind string

const (
	KindOHLCV          Kind = "ohlcv"
	KindFundingRate    Kind = "funding_rate"
	KindOpenInterest   Kind = "open_interest"
	KindBasis          Kind = "basis"
	KindLiquidations   Kind = "liquidations"
	KindLongShortRatio Kind = "long_short_ratio"
)

// FundingPoint is one funding-rate observation (8h cadence on most venues).
type FundingPoint struct {
	Time time.Time
	Rate float64 // signed fraction, e.g. 0.0001 = 1bp
}

// OpenInterestPoint is one non-negative open-interest observation.
type OpenInterestPoint struct {
	Time  time.Time
	Value float64
}

// BasisPoint is perp price minus spot price (signed), at an instant.
type BasisPoint struct {
	Time  time.Time
	Perp  float64
	Spot  float64
	Basis float64 // Perp - Spot
}

// LiquidationPoint carries buy/sell liquidated volume in one bucket.
type LiquidationPoint struct {
	Time     time.Time
	BuyVol   float64
	SellVol  float64
}

// LongShortPoint is a two-sided, non-negative sentiment ratio.
type LongShortPoint struct {
	Time       time.Time
	LongCount  float64
	ShortCount float64
}

// Series is a typed, time-indexed sequence for one (symbol, exchange,
// cadence, range). Exactly one of the typed slices is populated,
// matching Kind.
type Series struct {
	Symbol    string
	Exchange  string
	Kind      Kind
	Timeframe Timeframe // empty for non-OHLCV native-cadence series
	Start     time.Time
	End       time.Time

	Bars          []Bar
	Funding       []FundingPoint
	OpenInterest  []OpenInterestPoint
	Basis         []BasisPoint
	Liquidations  []LiquidationPoint
	LongShort     []LongShortPoint
}

// Len returns the number of points in whichever typed slice is populated.
func (s Series) Len() int {
	switch s.Kind {
	case KindOHLCV:
		return len(s.Bars)
	case KindFundingRate:
		return len(s.Funding)
	case KindOpenInterest:
		return len(s.OpenInterest)
	case KindBasis:
		return len(s.Basis)
	case KindLiquidations:
		return len(s.Liquidations)
	case KindLongShortRatio:
		return len(s.LongShort)
	default:
		return 0
	}
}

// DataRequirement is declared by a strategy for one input series.
type DataRequirement struct {
	SourceKind Kind
	Timeframe  Timeframe // optional; zero value means native cadence
	Lookback   int
	Required   bool
}

// Query describes what the pipeline is asked to satisfy.
type Query struct {
	Exchange  string
	Symbol    string
	Kind      Kind
	Timeframe Timeframe
	Start     time.Time
	End       time.Time
}

// Fingerprint deterministically identifies a Query for storage addressing.
func (q Query) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		q.Exchange, q.Symbol, q.Kind, q.Timeframe,
		q.Start.UTC().Unix(), q.End.UTC().Unix())
}
